package geom

import (
	"encoding/json"
	"fmt"
)

// The JSON form mirrors the WPILib field layout schema so that layouts and
// coprocessor frames share one encoding:
//
//	{"translation": {"x": 1, "y": 2, "z": 0.5},
//	 "rotation": {"quaternion": {"W": 1, "X": 0, "Y": 0, "Z": 0}}}
type jsonTranslation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type jsonQuaternion struct {
	W float64 `json:"W"`
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	Z float64 `json:"Z"`
}

type jsonRotation struct {
	Quaternion *jsonQuaternion `json:"quaternion,omitempty"`
}

type jsonRigid struct {
	Translation jsonTranslation `json:"translation"`
	Rotation    jsonRotation    `json:"rotation"`
}

func encodeRigid(tr jsonTranslation, r Rotation) ([]byte, error) {
	q := r.unit()
	return json.Marshal(jsonRigid{
		Translation: tr,
		Rotation:    jsonRotation{Quaternion: &jsonQuaternion{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag}},
	})
}

func decodeRigid(data []byte) (jsonTranslation, Rotation, error) {
	var raw jsonRigid
	if err := json.Unmarshal(data, &raw); err != nil {
		return jsonTranslation{}, Rotation{}, err
	}
	rot := IdentityRotation()
	if q := raw.Rotation.Quaternion; q != nil {
		if q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
			return jsonTranslation{}, Rotation{}, fmt.Errorf("zero-length rotation quaternion")
		}
		rot = NewRotationFromQuaternion(q.W, q.X, q.Y, q.Z)
	}
	return raw.Translation, rot, nil
}

// MarshalJSON implements json.Marshaler.
func (t Transform) MarshalJSON() ([]byte, error) {
	return encodeRigid(jsonTranslation{X: t.Translation.X, Y: t.Translation.Y, Z: t.Translation.Z}, t.Rotation)
}

// UnmarshalJSON implements json.Unmarshaler. A missing rotation is the identity.
func (t *Transform) UnmarshalJSON(data []byte) error {
	tr, rot, err := decodeRigid(data)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	*t = NewTransform(tr.X, tr.Y, tr.Z, rot)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Pose) MarshalJSON() ([]byte, error) {
	return encodeRigid(jsonTranslation{X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z}, p.Rotation)
}

// UnmarshalJSON implements json.Unmarshaler. A missing rotation is the identity.
func (p *Pose) UnmarshalJSON(data []byte) error {
	tr, rot, err := decodeRigid(data)
	if err != nil {
		return fmt.Errorf("pose: %w", err)
	}
	*p = NewPose(tr.X, tr.Y, tr.Z, rot)
	return nil
}
