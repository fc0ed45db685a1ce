package serialmux

import "strings"

const (
	LineTypeFrame   = "frame"
	LineTypeStatus  = "status"
	LineTypeUnknown = "unknown"
)

// ClassifyLine sorts a coprocessor line into a frame (a JSON object), a
// status message ("#" prefixed), or unknown output such as boot noise.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"):
		return LineTypeFrame
	case strings.HasPrefix(line, "#"):
		return LineTypeStatus
	default:
		return LineTypeUnknown
	}
}
