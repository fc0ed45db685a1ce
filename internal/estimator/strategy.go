package estimator

import (
	"fmt"
	"strings"
)

// PoseStrategy selects how the candidate robot poses from one frame are
// reduced to a single estimate. The set is closed; Update switches over it
// exhaustively.
type PoseStrategy int

const (
	// LowestAmbiguity trusts the single target with the lowest pose ambiguity.
	LowestAmbiguity PoseStrategy = iota
	// ClosestToCameraHeight picks the solution whose implied camera height
	// best matches the known mounting height.
	ClosestToCameraHeight
	// ClosestToReferencePose picks the solution nearest a caller-supplied prior.
	ClosestToReferencePose
	// ClosestToLastPose picks the solution nearest the previous estimate and
	// then remembers it.
	ClosestToLastPose
	// AverageBestTargets blends all targets weighted by 1 - ambiguity.
	AverageBestTargets
)

// AllStrategies lists every strategy in declaration order.
var AllStrategies = []PoseStrategy{
	LowestAmbiguity,
	ClosestToCameraHeight,
	ClosestToReferencePose,
	ClosestToLastPose,
	AverageBestTargets,
}

var strategyNames = map[PoseStrategy]string{
	LowestAmbiguity:        "lowest_ambiguity",
	ClosestToCameraHeight:  "closest_to_camera_height",
	ClosestToReferencePose: "closest_to_reference_pose",
	ClosestToLastPose:      "closest_to_last_pose",
	AverageBestTargets:     "average_best_targets",
}

func (s PoseStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PoseStrategy(%d)", int(s))
}

// Valid reports whether s is one of the declared strategies.
func (s PoseStrategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy converts a configuration name to a PoseStrategy. Names are
// case-insensitive and accept either snake_case or SCREAMING_SNAKE_CASE.
func ParseStrategy(name string) (PoseStrategy, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, s := range AllStrategies {
		if strategyNames[s] == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown pose strategy %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s PoseStrategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown pose strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PoseStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
