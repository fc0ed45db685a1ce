package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	payload := []byte(`{
		"timestamp_nanos": 1500000000,
		"targets": [
			{
				"fiducial_id": 4,
				"pose_ambiguity": 0.12,
				"best_camera_to_target": {"translation": {"x": 2, "y": 0.1, "z": 0.3}},
				"alt_camera_to_target": {"translation": {"x": 2, "y": -0.1, "z": 0.3}}
			},
			{
				"fiducial_id": 7,
				"pose_ambiguity": 3.5,
				"best_camera_to_target": {"translation": {"x": 4, "y": 0, "z": 0}}
			}
		]
	}`)

	f, err := ParseFrame(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1500000000), f.TimestampNanos)
	require.Len(t, f.Targets, 2)

	assert.Equal(t, 4, f.Targets[0].FiducialID)
	assert.InDelta(t, 0.12, f.Targets[0].PoseAmbiguity, 1e-12)
	require.NotNil(t, f.Targets[0].AltCameraToTarget)
	assert.InDelta(t, -0.1, f.Targets[0].AltCameraToTarget.Translation.Y, 1e-12)

	assert.Nil(t, f.Targets[1].AltCameraToTarget)
	assert.Equal(t, AmbiguityUnknown, f.Targets[1].PoseAmbiguity)
	assert.False(t, f.Targets[1].HasAmbiguity())
}

func TestParseFrame_NoTargets(t *testing.T) {
	f, err := ParseFrame([]byte(`{"timestamp_nanos": 10, "targets": []}`))
	require.NoError(t, err)
	assert.False(t, f.HasTargets())
}

func TestParseFrame_Errors(t *testing.T) {
	_, err := ParseFrame(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = ParseFrame([]byte(`{"targets": [`))
	assert.Error(t, err)
}

func TestParseFrame_MissingAmbiguityIsUnknown(t *testing.T) {
	f, err := ParseFrame([]byte(`{
		"timestamp_nanos": 5,
		"targets": [
			{"fiducial_id": 1, "best_camera_to_target": {"translation": {"x": 1, "y": 0, "z": 0}}},
			{"fiducial_id": 2, "pose_ambiguity": null, "best_camera_to_target": {"translation": {"x": 2, "y": 0, "z": 0}}},
			{"fiducial_id": 3, "pose_ambiguity": 0, "best_camera_to_target": {"translation": {"x": 3, "y": 0, "z": 0}}}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, f.Targets, 3)

	for _, tgt := range f.Targets[:2] {
		assert.Equal(t, AmbiguityUnknown, tgt.PoseAmbiguity, "tag %d", tgt.FiducialID)
		assert.False(t, tgt.HasAmbiguity(), "tag %d", tgt.FiducialID)
	}
	// An explicit zero is a real score.
	assert.Equal(t, 0.0, f.Targets[2].PoseAmbiguity)
	assert.True(t, f.Targets[2].HasAmbiguity())
	assert.InDelta(t, 3, f.Targets[2].BestCameraToTarget.Translation.X, 1e-12)
}
