package posestream

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/geom"
)

// EncodeUpdate converts an update to its wire form. Nanosecond timestamps are
// sent as decimal strings because Struct numbers are doubles.
func EncodeUpdate(u Update) (*structpb.Struct, error) {
	p := u.Estimate.Pose
	q := p.Rotation.Quaternion()
	roll, pitch, yaw := p.Rotation.RPY()
	return structpb.NewStruct(map[string]interface{}{
		"sequence":        float64(u.Sequence),
		"strategy":        u.Strategy.String(),
		"timestamp_nanos": strconv.FormatInt(u.Estimate.TimestampNanos, 10),
		"published_nanos": strconv.FormatInt(u.Published.UnixNano(), 10),
		"x":               p.Translation.X,
		"y":               p.Translation.Y,
		"z":               p.Translation.Z,
		"qw":              q.Real,
		"qx":              q.Imag,
		"qy":              q.Jmag,
		"qz":              q.Kmag,
		"roll":            roll,
		"pitch":           pitch,
		"yaw":             yaw,
	})
}

// DecodeUpdate is the inverse of EncodeUpdate. Roll, pitch and yaw are
// informational and ignored.
func DecodeUpdate(s *structpb.Struct) (Update, error) {
	f := s.GetFields()
	num := func(key string) (float64, error) {
		v, ok := f[key]
		if !ok {
			return 0, fmt.Errorf("estimate missing %q", key)
		}
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return 0, fmt.Errorf("estimate field %q is not a number", key)
		}
		return v.GetNumberValue(), nil
	}
	nanos := func(key string) (int64, error) {
		v, ok := f[key]
		if !ok {
			return 0, fmt.Errorf("estimate missing %q", key)
		}
		n, err := strconv.ParseInt(v.GetStringValue(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("estimate field %q: %w", key, err)
		}
		return n, nil
	}

	var u Update
	seq, err := num("sequence")
	if err != nil {
		return u, err
	}
	u.Sequence = uint64(seq)

	if u.Strategy, err = estimator.ParseStrategy(f["strategy"].GetStringValue()); err != nil {
		return u, err
	}
	if u.Estimate.TimestampNanos, err = nanos("timestamp_nanos"); err != nil {
		return u, err
	}
	published, err := nanos("published_nanos")
	if err != nil {
		return u, err
	}
	u.Published = time.Unix(0, published)

	var c [7]float64
	for i, key := range []string{"x", "y", "z", "qw", "qx", "qy", "qz"} {
		if c[i], err = num(key); err != nil {
			return u, err
		}
	}
	u.Estimate.Pose = geom.NewPose(c[0], c[1], c[2], geom.NewRotationFromQuaternion(c[3], c[4], c[5], c[6]))
	return u, nil
}
