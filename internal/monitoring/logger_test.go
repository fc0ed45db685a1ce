package monitoring

import (
	"fmt"
	"testing"
)

// capture routes Logf into a slice for the duration of the test.
func capture(t *testing.T) *[]string {
	t.Helper()
	saved := Logf
	t.Cleanup(func() { Logf = saved })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSubsystem_Prefix(t *testing.T) {
	tests := []struct {
		name   string
		format string
		args   []interface{}
		want   string
	}{
		{"camera", "published %d frames", []interface{}{3}, "[camera] published 3 frames"},
		{"pipeline", "stopped", nil, "[pipeline] stopped"},
		{"", "no name", nil, "[] no name"},
		{"100%", "load %s", []interface{}{"high"}, "[100%] load high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := capture(t)
			Subsystem(tt.name)(tt.format, tt.args...)
			if len(*lines) != 1 || (*lines)[0] != tt.want {
				t.Fatalf("got %q, want [%q]", *lines, tt.want)
			}
		})
	}
}

func TestSubsystem_ResolvesLoggerPerCall(t *testing.T) {
	logf := Subsystem("db")

	// Created before the swap, still routed through the new logger.
	lines := capture(t)
	logf("run %s started", "abc")
	if len(*lines) != 1 || (*lines)[0] != "[db] run abc started" {
		t.Fatalf("got %q", *lines)
	}

	SetLogger(nil)
	logf("muted")
	if len(*lines) != 1 {
		t.Fatalf("muted logger still wrote: %q", *lines)
	}
}
