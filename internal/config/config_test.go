package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/fieldpose/internal/contours"
	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/geom"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &EstimatorConfig{}

	if got := cfg.GetStrategy(); got != estimator.LowestAmbiguity {
		t.Errorf("GetStrategy() = %v, want lowest_ambiguity", got)
	}
	if got := cfg.GetUpdateInterval(); got != 20*time.Millisecond {
		t.Errorf("GetUpdateInterval() = %v, want 20ms", got)
	}
	if got := cfg.GetMaxFrameAge(); got != 250*time.Millisecond {
		t.Errorf("GetMaxFrameAge() = %v, want 250ms", got)
	}
	if got := cfg.GetSource().Kind; got != SourceNone {
		t.Errorf("GetSource().Kind = %q, want %q", got, SourceNone)
	}
	if got := cfg.GetContourFilter(); got != contours.DefaultParams() {
		t.Errorf("GetContourFilter() = %+v, want defaults", got)
	}
	if _, ok := cfg.GetReferencePose(); ok {
		t.Error("GetReferencePose() reported a pose on an empty config")
	}
	if _, ok := cfg.GetCameraHeight(); ok {
		t.Error("GetCameraHeight() reported a height on an empty config")
	}
	if got := cfg.GetRobotToCamera(); got != (geom.Transform{}) {
		t.Errorf("GetRobotToCamera() = %v, want identity", got)
	}
	if cfg.GetDBPath() != "fieldpose.db" || cfg.GetHTTPListen() != "localhost:8080" || cfg.GetGRPCListen() != ":50051" {
		t.Errorf("unexpected service defaults: %q %q %q", cfg.GetDBPath(), cfg.GetHTTPListen(), cfg.GetGRPCListen())
	}
}

func TestLoadEstimatorConfig(t *testing.T) {
	path := writeConfig(t, "fieldpose.json", `{
  "strategy": "Closest_To_Reference_Pose",
  "robot_to_camera": {"x": 0.2, "y": -0.1, "z": 0.6, "yaw_deg": 90},
  "reference_pose": {"x": 3, "y": 4},
  "camera_height_m": 0.55,
  "update_interval": "10ms",
  "max_frame_age": "1s",
  "source": {"kind": "PCAP", "pcap_file": "capture.pcap", "pcap_port": 5800}
}`)

	cfg, err := LoadEstimatorConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetStrategy(); got != estimator.ClosestToReferencePose {
		t.Errorf("GetStrategy() = %v, want closest_to_reference_pose", got)
	}
	if got := cfg.GetUpdateInterval(); got != 10*time.Millisecond {
		t.Errorf("GetUpdateInterval() = %v, want 10ms", got)
	}
	if got := cfg.GetMaxFrameAge(); got != time.Second {
		t.Errorf("GetMaxFrameAge() = %v, want 1s", got)
	}
	if h, ok := cfg.GetCameraHeight(); !ok || h != 0.55 {
		t.Errorf("GetCameraHeight() = %v, %v; want 0.55, true", h, ok)
	}

	mount := cfg.GetRobotToCamera()
	if math.Abs(mount.Translation.Z-0.6) > 1e-12 {
		t.Errorf("mount z = %f, want 0.6", mount.Translation.Z)
	}
	if _, _, yaw := mount.Rotation.RPY(); math.Abs(yaw-math.Pi/2) > 1e-9 {
		t.Errorf("mount yaw = %f, want pi/2", yaw)
	}

	src := cfg.GetSource()
	if src.Kind != SourcePCAP || src.PCAPFile != "capture.pcap" || src.PCAPPort != 5800 {
		t.Errorf("GetSource() = %+v", src)
	}
}

func TestLoadEstimatorConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{"strategy":`, "failed to parse"},
		{"unknown strategy", "cfg.json", `{"strategy":"best_guess"}`, "unknown pose strategy"},
		{"bad duration", "cfg.json", `{"update_interval":"soon"}`, "invalid update_interval"},
		{"zero duration", "cfg.json", `{"max_frame_age":"0s"}`, "must be positive"},
		{"reflected mount matrix", "cfg.json", `{"robot_to_camera":{"matrix":[-1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]}}`, "robot_to_camera"},
		{"negative height", "cfg.json", `{"camera_height_m":-1}`, "camera_height_m"},
		{"inverted contour range", "cfg.json", `{"contour_filter":{"ratio":{"min":3,"max":1}}}`, "contour_filter"},
		{"serial without port", "cfg.json", `{"source":{"kind":"serial"}}`, "serial_port"},
		{"bad serial parity", "cfg.json", `{"source":{"kind":"serial","serial_port":"/dev/ttyACM0","serial_options":{"parity":"X"}}}`, "parity"},
		{"udp without address", "cfg.json", `{"source":{"kind":"udp"}}`, "udp_address"},
		{"pcap bad port", "cfg.json", `{"source":{"kind":"pcap","pcap_file":"a.pcap","pcap_port":0}}`, "pcap_port"},
		{"unknown source", "cfg.json", `{"source":{"kind":"carrier-pigeon"}}`, "unknown source kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadEstimatorConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPlacement_Matrix(t *testing.T) {
	// Camera 0.3 m forward, 0.5 m up, yawed 90 degrees left.
	path := writeConfig(t, "cfg.json", `{"robot_to_camera":{"x":9,"matrix":[0,-1,0,0.3, 1,0,0,0, 0,0,1,0.5, 0,0,0,1]}}`)
	cfg, err := LoadEstimatorConfig(path)
	if err != nil {
		t.Fatalf("LoadEstimatorConfig: %v", err)
	}
	want := geom.NewTransform(0.3, 0, 0.5, geom.NewRotationFromRPY(0, 0, math.Pi/2))
	got := cfg.GetRobotToCamera()
	if r3.Norm(r3.Sub(got.Translation, want.Translation)) > 1e-9 || !got.Rotation.ApproxEqual(want.Rotation, 1e-9) {
		t.Errorf("GetRobotToCamera() = %v, want %v", got, want)
	}
}

func TestLoadEstimatorConfig_TooLarge(t *testing.T) {
	big := `{"db_path":"` + strings.Repeat("a", maxConfigFileSize) + `"}`
	path := writeConfig(t, "big.json", big)
	if _, err := LoadEstimatorConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadEstimatorConfig_Missing(t *testing.T) {
	if _, err := LoadEstimatorConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetStrategy() != estimator.LowestAmbiguity {
		t.Errorf("default strategy = %v", cfg.GetStrategy())
	}
	if cfg.GetSource().Kind != SourceUDP {
		t.Errorf("default source = %q, want udp", cfg.GetSource().Kind)
	}

	layout, err := fieldlayout.Load(filepath.Join("..", "..", cfg.GetFieldLayoutPath()))
	if err != nil {
		t.Fatalf("failed to load example layout: %v", err)
	}
	if layout.Len() == 0 {
		t.Error("example layout has no tags")
	}
}

func TestNewEstimator_AppliesOptionalSettings(t *testing.T) {
	strategy := "closest_to_last_pose"
	height := 0.75
	cfg := &EstimatorConfig{
		Strategy:        &strategy,
		RobotToCamera:   &Placement{X: 0.1, Z: 0.4},
		ReferencePose:   &Placement{X: 1, Y: 2},
		InitialLastPose: &Placement{X: 5, Y: 6, YawDeg: 180},
		CameraHeightM:   &height,
	}

	e := cfg.NewEstimator(nil, nil)
	if e.Strategy() != estimator.ClosestToLastPose {
		t.Errorf("Strategy() = %v", e.Strategy())
	}
	if e.CameraHeight() != 0.75 {
		t.Errorf("CameraHeight() = %v, want 0.75", e.CameraHeight())
	}
	if got := e.ReferencePose().Translation; got.X != 1 || got.Y != 2 {
		t.Errorf("ReferencePose() = %v", got)
	}
	if got := e.LastPose().Translation; got.X != 5 || got.Y != 6 {
		t.Errorf("LastPose() = %v", got)
	}
	if got := e.RobotToCamera().Translation; got.X != 0.1 || got.Z != 0.4 {
		t.Errorf("RobotToCamera() = %v", got)
	}

	plain := (&EstimatorConfig{}).NewEstimator(nil, nil)
	if plain.CameraHeight() != 0 {
		t.Errorf("CameraHeight() without override = %v, want mount z 0", plain.CameraHeight())
	}
}
