package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/fieldpose/internal/contours"
	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/serialmux"
)

// DefaultConfigPath is the checked-in example configuration.
const DefaultConfigPath = "config/fieldpose.defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Source kinds.
const (
	SourceNone   = "none"
	SourceSerial = "serial"
	SourceUDP    = "udp"
	SourcePCAP   = "pcap"
)

// Placement is a position in metres plus an orientation as extrinsic
// roll/pitch/yaw in degrees. It describes both camera mounts and field poses.
// Matrix, a 4x4 row-major homogeneous transform as produced by calibration
// tools, takes precedence over the other fields when set.
type Placement struct {
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Z        float64      `json:"z"`
	RollDeg  float64      `json:"roll_deg"`
	PitchDeg float64      `json:"pitch_deg"`
	YawDeg   float64      `json:"yaw_deg"`
	Matrix   *[16]float64 `json:"matrix,omitempty"`
}

func (p Placement) validate() error {
	if p.Matrix != nil && !geom.IsValidTransformMatrix(*p.Matrix) {
		return geom.ErrInvalidTransformMatrix
	}
	return nil
}

// Transform returns the placement as a rigid transform.
func (p Placement) Transform() geom.Transform {
	if p.Matrix != nil {
		if t, err := geom.TransformFromMatrix(*p.Matrix); err == nil {
			return t
		}
	}
	const rad = math.Pi / 180
	return geom.NewTransform(p.X, p.Y, p.Z, geom.NewRotationFromRPY(p.RollDeg*rad, p.PitchDeg*rad, p.YawDeg*rad))
}

// Pose returns the placement as a field pose.
func (p Placement) Pose() geom.Pose {
	t := p.Transform()
	return geom.Pose{Translation: t.Translation, Rotation: t.Rotation}
}

// SourceConfig selects where camera frames come from.
type SourceConfig struct {
	Kind string `json:"kind"`

	// serial
	SerialPort    string                `json:"serial_port,omitempty"`
	SerialOptions serialmux.PortOptions `json:"serial_options"`

	// udp
	UDPAddress string `json:"udp_address,omitempty"`

	// pcap
	PCAPFile  string  `json:"pcap_file,omitempty"`
	PCAPPort  int     `json:"pcap_port,omitempty"`
	PCAPSpeed float64 `json:"pcap_speed,omitempty"` // 0 replays as fast as possible
}

func (s SourceConfig) validate() error {
	switch strings.ToLower(s.Kind) {
	case "", SourceNone:
		return nil
	case SourceSerial:
		if s.SerialPort == "" {
			return fmt.Errorf("serial source needs serial_port")
		}
		if _, err := s.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	case SourceUDP:
		if s.UDPAddress == "" {
			return fmt.Errorf("udp source needs udp_address")
		}
	case SourcePCAP:
		if s.PCAPFile == "" {
			return fmt.Errorf("pcap source needs pcap_file")
		}
		if s.PCAPPort <= 0 || s.PCAPPort > 65535 {
			return fmt.Errorf("pcap_port must be 1-65535, got %d", s.PCAPPort)
		}
		if s.PCAPSpeed < 0 {
			return fmt.Errorf("pcap_speed must be non-negative, got %g", s.PCAPSpeed)
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// EstimatorConfig is the on-disk configuration of the fieldpose service.
// Every field is optional; the Get* methods supply defaults for omitted ones.
type EstimatorConfig struct {
	Strategy        *string    `json:"strategy,omitempty"`
	RobotToCamera   *Placement `json:"robot_to_camera,omitempty"`
	ReferencePose   *Placement `json:"reference_pose,omitempty"`
	InitialLastPose *Placement `json:"initial_last_pose,omitempty"`
	CameraHeightM   *float64   `json:"camera_height_m,omitempty"`

	FieldLayoutPath *string `json:"field_layout_path,omitempty"`

	UpdateInterval *string `json:"update_interval,omitempty"` // duration string like "20ms"
	MaxFrameAge    *string `json:"max_frame_age,omitempty"`   // duration string like "250ms"

	ContourFilter *contours.Params `json:"contour_filter,omitempty"`
	Source        *SourceConfig    `json:"source,omitempty"`

	DBPath     *string `json:"db_path,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
}

// LoadEstimatorConfig reads and validates a JSON configuration file. The
// file must have a .json extension and be under 1MB.
func LoadEstimatorConfig(path string) (*EstimatorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EstimatorConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory or
// one of its parents. It panics on failure and is meant for tests and tools.
func MustLoadDefaultConfig() *EstimatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that every set field holds a usable value.
func (c *EstimatorConfig) Validate() error {
	if c.Strategy != nil {
		if _, err := estimator.ParseStrategy(*c.Strategy); err != nil {
			return err
		}
	}

	for name, p := range map[string]*Placement{
		"robot_to_camera":   c.RobotToCamera,
		"reference_pose":    c.ReferencePose,
		"initial_last_pose": c.InitialLastPose,
	} {
		if p == nil {
			continue
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.CameraHeightM != nil && *c.CameraHeightM < 0 {
		return fmt.Errorf("camera_height_m must be non-negative, got %f", *c.CameraHeightM)
	}

	for name, v := range map[string]*string{
		"update_interval": c.UpdateInterval,
		"max_frame_age":   c.MaxFrameAge,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.ContourFilter != nil {
		if err := c.ContourFilter.Validate(); err != nil {
			return fmt.Errorf("contour_filter: %w", err)
		}
	}

	if c.Source != nil {
		if err := c.Source.validate(); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	return nil
}

// GetStrategy returns the configured strategy, LowestAmbiguity by default.
func (c *EstimatorConfig) GetStrategy() estimator.PoseStrategy {
	if c.Strategy == nil {
		return estimator.LowestAmbiguity
	}
	s, err := estimator.ParseStrategy(*c.Strategy)
	if err != nil {
		return estimator.LowestAmbiguity
	}
	return s
}

// GetRobotToCamera returns the camera mount, identity by default.
func (c *EstimatorConfig) GetRobotToCamera() geom.Transform {
	if c.RobotToCamera == nil {
		return geom.Transform{}
	}
	return c.RobotToCamera.Transform()
}

// GetReferencePose returns the configured reference pose, if any.
func (c *EstimatorConfig) GetReferencePose() (geom.Pose, bool) {
	if c.ReferencePose == nil {
		return geom.Pose{}, false
	}
	return c.ReferencePose.Pose(), true
}

// GetInitialLastPose returns the configured seed for ClosestToLastPose, if any.
func (c *EstimatorConfig) GetInitialLastPose() (geom.Pose, bool) {
	if c.InitialLastPose == nil {
		return geom.Pose{}, false
	}
	return c.InitialLastPose.Pose(), true
}

// GetCameraHeight returns the configured camera height, if any.
func (c *EstimatorConfig) GetCameraHeight() (float64, bool) {
	if c.CameraHeightM == nil {
		return 0, false
	}
	return *c.CameraHeightM, true
}

// GetFieldLayoutPath returns the field layout file path or "".
func (c *EstimatorConfig) GetFieldLayoutPath() string {
	if c.FieldLayoutPath == nil {
		return ""
	}
	return *c.FieldLayoutPath
}

// GetUpdateInterval parses and returns the control loop period.
func (c *EstimatorConfig) GetUpdateInterval() time.Duration {
	return parseDurationOr(c.UpdateInterval, 20*time.Millisecond)
}

// GetMaxFrameAge parses and returns how old a frame may be before the
// camera slot discards it.
func (c *EstimatorConfig) GetMaxFrameAge() time.Duration {
	return parseDurationOr(c.MaxFrameAge, 250*time.Millisecond)
}

// GetContourFilter returns the contour filter bounds or contours.DefaultParams.
func (c *EstimatorConfig) GetContourFilter() contours.Params {
	if c.ContourFilter == nil {
		return contours.DefaultParams()
	}
	return *c.ContourFilter
}

// GetSource returns the frame source settings. The kind is normalised to
// lower case and defaults to SourceNone.
func (c *EstimatorConfig) GetSource() SourceConfig {
	if c.Source == nil {
		return SourceConfig{Kind: SourceNone}
	}
	s := *c.Source
	s.Kind = strings.ToLower(s.Kind)
	if s.Kind == "" {
		s.Kind = SourceNone
	}
	return s
}

// GetDBPath returns the sqlite database path.
func (c *EstimatorConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "fieldpose.db"
	}
	return *c.DBPath
}

// GetHTTPListen returns the debug HTTP listen address.
func (c *EstimatorConfig) GetHTTPListen() string {
	if c.HTTPListen == nil || *c.HTTPListen == "" {
		return "localhost:8080"
	}
	return *c.HTTPListen
}

// GetGRPCListen returns the estimate stream listen address.
func (c *EstimatorConfig) GetGRPCListen() string {
	if c.GRPCListen == nil || *c.GRPCListen == "" {
		return ":50051"
	}
	return *c.GRPCListen
}

// NewEstimator builds an Estimator from the configuration, applying the
// reference pose, last pose seed and camera height when they are set.
func (c *EstimatorConfig) NewEstimator(layout estimator.FieldLayout, cam estimator.Camera) *estimator.Estimator {
	e := estimator.New(layout, estimator.Config{
		Strategy:      c.GetStrategy(),
		RobotToCamera: c.GetRobotToCamera(),
		Camera:        cam,
	})
	if p, ok := c.GetReferencePose(); ok {
		e.SetReferencePose(p)
	}
	if p, ok := c.GetInitialLastPose(); ok {
		e.SetLastPose(p)
	}
	if h, ok := c.GetCameraHeight(); ok {
		e.SetCameraHeight(h)
	}
	return e
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
