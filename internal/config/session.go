package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Framing modes for inbound frames and outbound poses.
const (
	// FramingRaw reads whatever the transport delivers as one message and
	// writes bare 64-byte poses. This is what the headset client speaks.
	FramingRaw = "raw"
	// FramingLengthPrefixed puts a 4-byte little-endian length before every
	// message in both directions.
	FramingLengthPrefixed = "length-prefixed"
)

// Estimator names accepted by the estimator key.
const (
	EstimatorStatic    = "static"
	EstimatorSynthetic = "synthetic"
)

// SessionConfig is the startup configuration of the tracking daemon.
// Fields omitted from a config file fall back to the Get* defaults, so
// partial files are safe.
type SessionConfig struct {
	// Transport
	ListenAddr      *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	Framing         *string `json:"framing,omitempty" yaml:"framing,omitempty"`
	ExpectHello     *bool   `json:"expect_hello,omitempty" yaml:"expect_hello,omitempty"`
	ReadTimeout     *string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`   // duration string, "" = no deadline
	WriteTimeout    *string `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"` // duration string, "" = no deadline
	DrainWindow     *string `json:"drain_window,omitempty" yaml:"drain_window,omitempty"`
	MaxPayloadBytes *int    `json:"max_payload_bytes,omitempty" yaml:"max_payload_bytes,omitempty"`
	AsyncIO         *bool   `json:"async_io,omitempty" yaml:"async_io,omitempty"`

	// Frames
	FrameWidth     *int  `json:"frame_width,omitempty" yaml:"frame_width,omitempty"`
	FrameHeight    *int  `json:"frame_height,omitempty" yaml:"frame_height,omitempty"`
	FlipHorizontal *bool `json:"flip_horizontal,omitempty" yaml:"flip_horizontal,omitempty"`

	// Cycle
	ReadEvery           *int    `json:"read_every,omitempty" yaml:"read_every,omitempty"`
	LogInterval         *string `json:"log_interval,omitempty" yaml:"log_interval,omitempty"`
	OrthonormalizeEvery *int    `json:"orthonormalize_every,omitempty" yaml:"orthonormalize_every,omitempty"`

	// Estimation
	Estimator         *string        `json:"estimator,omitempty" yaml:"estimator,omitempty"`
	SyntheticStepDeg  *float64       `json:"synthetic_step_deg,omitempty" yaml:"synthetic_step_deg,omitempty"`
	SyntheticStepMM   *float64       `json:"synthetic_step_mm,omitempty" yaml:"synthetic_step_mm,omitempty"`
	Camera            *CameraConfig  `json:"camera,omitempty" yaml:"camera,omitempty"`
	TemplateDistances []float64      `json:"template_distances,omitempty" yaml:"template_distances,omitempty"`
	Objects           []ObjectConfig `json:"objects,omitempty" yaml:"objects,omitempty"`

	// Auxiliary services; empty disables them.
	DebugListen   *string `json:"debug_listen,omitempty" yaml:"debug_listen,omitempty"`
	GRPCListen    *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	RedisAddr     *string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisChannel  *string `json:"redis_channel,omitempty" yaml:"redis_channel,omitempty"`
	KeyDevice     *string `json:"key_device,omitempty" yaml:"key_device,omitempty"`
	KeyBaud       *int    `json:"key_baud,omitempty" yaml:"key_baud,omitempty"`
	SnapshotDir   *string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`
	SnapshotEvery *int    `json:"snapshot_every,omitempty" yaml:"snapshot_every,omitempty"`
}

// CameraConfig holds the pinhole intrinsics and view frustum.
type CameraConfig struct {
	Fx         float64    `json:"fx" yaml:"fx"`
	Fy         float64    `json:"fy" yaml:"fy"`
	Cx         float64    `json:"cx" yaml:"cx"`
	Cy         float64    `json:"cy" yaml:"cy"`
	Distortion [4]float64 `json:"distortion" yaml:"distortion"`
	ZNear      float64    `json:"z_near" yaml:"z_near"`
	ZFar       float64    `json:"z_far" yaml:"z_far"`
}

// ObjectConfig places one tracked object at load time.
type ObjectConfig struct {
	Name        string     `json:"name" yaml:"name"`
	Mesh        string     `json:"mesh" yaml:"mesh"`
	Translation [3]float64 `json:"translation" yaml:"translation"`
	RotationDeg [3]float64 `json:"rotation_deg" yaml:"rotation_deg"`
	Scale       float64    `json:"scale" yaml:"scale"`
	Quality     float64    `json:"quality" yaml:"quality"`
	BBoxMin     [3]float64 `json:"bbox_min" yaml:"bbox_min"`
	BBoxMax     [3]float64 `json:"bbox_max" yaml:"bbox_max"`
}

// Helper functions to create pointers
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// DefaultCamera returns the headset intrinsics used when no calibration is
// configured.
func DefaultCamera() CameraConfig {
	return CameraConfig{
		Fx: 1031.328, Fy: 1034.549,
		Cx: 679.696, Cy: 394.479,
		Distortion: [4]float64{0.231, -0.367, -0.0016, -0.0013},
		ZNear:      10, ZFar: 10000,
	}
}

// DefaultObject is the egg box placed in front of the camera.
func DefaultObject() ObjectConfig {
	return ObjectConfig{
		Name:        "eggbox",
		Mesh:        "data/eggbox.obj",
		Translation: [3]float64{15, 0, 500},
		RotationDeg: [3]float64{195, -10, -20},
		Scale:       1.0,
		Quality:     0.55,
		BBoxMin:     [3]float64{-60, -25, -40},
		BBoxMax:     [3]float64{60, 25, 40},
	}
}

// EmptySessionConfig returns a config with every field unset.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// DefaultSessionConfig returns a config with every field populated.
func DefaultSessionConfig() *SessionConfig {
	cam := DefaultCamera()
	return &SessionConfig{
		ListenAddr:          ptrString(":27015"),
		Framing:             ptrString(FramingRaw),
		ExpectHello:         ptrBool(true),
		ReadTimeout:         ptrString(""),
		WriteTimeout:        ptrString(""),
		DrainWindow:         ptrString("2ms"),
		MaxPayloadBytes:     ptrInt(2 * 1408 * 792 * 4),
		AsyncIO:             ptrBool(false),
		FrameWidth:          ptrInt(1408),
		FrameHeight:         ptrInt(792),
		FlipHorizontal:      ptrBool(true),
		ReadEvery:           ptrInt(3),
		LogInterval:         ptrString("10s"),
		OrthonormalizeEvery: ptrInt(300),
		Estimator:           ptrString(EstimatorStatic),
		SyntheticStepDeg:    ptrFloat64(0.5),
		SyntheticStepMM:     ptrFloat64(1.0),
		Camera:              &cam,
		TemplateDistances:   []float64{200, 400, 600},
		Objects:             []ObjectConfig{DefaultObject()},
		DebugListen:         ptrString(""),
		GRPCListen:          ptrString(""),
		DBPath:              ptrString(""),
		RedisAddr:           ptrString(""),
		RedisChannel:        ptrString("holotrack:poses"),
		KeyDevice:           ptrString(""),
		KeyBaud:             ptrInt(9600),
		SnapshotDir:         ptrString(""),
		SnapshotEvery:       ptrInt(30),
	}
}

// LoadSessionConfig loads a SessionConfig from a .json, .yaml or .yml file.
// The file must be under 1MB.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySessionConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Environment variables that override file values.
const (
	EnvListenAddr  = "HOLOTRACK_LISTEN_ADDR"
	EnvDBPath      = "HOLOTRACK_DB_PATH"
	EnvDebugListen = "HOLOTRACK_DEBUG_LISTEN"
	EnvRedisAddr   = "HOLOTRACK_REDIS_ADDR"
)

// ApplyEnv overrides fields from lookup, which has the signature of
// os.LookupEnv. Unset variables leave the field alone.
func (c *SessionConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListenAddr); ok {
		c.ListenAddr = ptrString(v)
	}
	if v, ok := lookup(EnvDBPath); ok {
		c.DBPath = ptrString(v)
	}
	if v, ok := lookup(EnvDebugListen); ok {
		c.DebugListen = ptrString(v)
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.RedisAddr = ptrString(v)
	}
}

// ApplyDotEnv reads a .env file and applies its HOLOTRACK_* entries. The
// process environment still wins over the file. A missing file is not an
// error.
func (c *SessionConfig) ApplyDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	c.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	})
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.ReadEvery != nil && *c.ReadEvery < 1 {
		return fmt.Errorf("read_every must be at least 1, got %d", *c.ReadEvery)
	}
	if c.OrthonormalizeEvery != nil && *c.OrthonormalizeEvery < 0 {
		return fmt.Errorf("orthonormalize_every must be non-negative, got %d", *c.OrthonormalizeEvery)
	}
	if c.Framing != nil && *c.Framing != FramingRaw && *c.Framing != FramingLengthPrefixed {
		return fmt.Errorf("framing must be %q or %q, got %q", FramingRaw, FramingLengthPrefixed, *c.Framing)
	}
	if c.Estimator != nil && *c.Estimator != EstimatorStatic && *c.Estimator != EstimatorSynthetic {
		return fmt.Errorf("estimator must be %q or %q, got %q", EstimatorStatic, EstimatorSynthetic, *c.Estimator)
	}
	if c.MaxPayloadBytes != nil {
		if *c.MaxPayloadBytes < c.FrameBytes() {
			return fmt.Errorf("max_payload_bytes %d is smaller than one frame (%d)", *c.MaxPayloadBytes, c.FrameBytes())
		}
	}
	for name, v := range map[string]*string{
		"read_timeout":  c.ReadTimeout,
		"write_timeout": c.WriteTimeout,
		"drain_window":  c.DrainWindow,
		"log_interval":  c.LogInterval,
	} {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
			if d < 0 {
				return fmt.Errorf("%s must be non-negative, got %s", name, *v)
			}
		}
	}
	if c.Camera != nil {
		if c.Camera.Fx <= 0 || c.Camera.Fy <= 0 {
			return fmt.Errorf("camera focal lengths must be positive, got fx=%g fy=%g", c.Camera.Fx, c.Camera.Fy)
		}
		if c.Camera.ZNear <= 0 || c.Camera.ZNear >= c.Camera.ZFar {
			return fmt.Errorf("camera z_near must be in (0, z_far), got %g/%g", c.Camera.ZNear, c.Camera.ZFar)
		}
	}
	if c.Objects != nil && len(c.Objects) == 0 {
		return fmt.Errorf("at least one object is required")
	}
	for i, obj := range c.Objects {
		if obj.Name == "" {
			return fmt.Errorf("objects[%d]: name is required", i)
		}
		if obj.Scale <= 0 {
			return fmt.Errorf("objects[%d] %s: scale must be positive, got %g", i, obj.Name, obj.Scale)
		}
		for axis := 0; axis < 3; axis++ {
			if obj.BBoxMin[axis] > obj.BBoxMax[axis] {
				return fmt.Errorf("objects[%d] %s: bbox_min exceeds bbox_max on axis %d", i, obj.Name, axis)
			}
		}
	}
	return nil
}

// FrameBytes returns the expected size of one inbound frame.
func (c *SessionConfig) FrameBytes() int {
	return c.GetFrameWidth() * c.GetFrameHeight() * 4
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetListenAddr returns the TCP listen address for the peer.
func (c *SessionConfig) GetListenAddr() string { return stringOr(c.ListenAddr, ":27015") }

// GetFraming returns the framing mode.
func (c *SessionConfig) GetFraming() string { return stringOr(c.Framing, FramingRaw) }

// GetExpectHello reports whether the peer sends a pixel-count hello first.
func (c *SessionConfig) GetExpectHello() bool {
	if c.ExpectHello == nil {
		return true
	}
	return *c.ExpectHello
}

// GetReadTimeout returns the per-read deadline; zero means none.
func (c *SessionConfig) GetReadTimeout() time.Duration { return durationOr(c.ReadTimeout, 0) }

// GetWriteTimeout returns the per-write deadline; zero means none.
func (c *SessionConfig) GetWriteTimeout() time.Duration { return durationOr(c.WriteTimeout, 0) }

// GetDrainWindow returns how long a raw read keeps collecting bytes after
// the first chunk arrives.
func (c *SessionConfig) GetDrainWindow() time.Duration {
	return durationOr(c.DrainWindow, 2*time.Millisecond)
}

// GetMaxPayloadBytes returns the largest inbound message accepted.
func (c *SessionConfig) GetMaxPayloadBytes() int {
	if c.MaxPayloadBytes == nil {
		return 2 * c.FrameBytes()
	}
	return *c.MaxPayloadBytes
}

// GetAsyncIO reports whether transport I/O runs on dedicated goroutines.
func (c *SessionConfig) GetAsyncIO() bool {
	if c.AsyncIO == nil {
		return false
	}
	return *c.AsyncIO
}

// GetFrameWidth returns the inbound frame width.
func (c *SessionConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 1408
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the inbound frame height.
func (c *SessionConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 792
	}
	return *c.FrameHeight
}

// GetFlipHorizontal reports whether inbound frames are mirrored back.
func (c *SessionConfig) GetFlipHorizontal() bool {
	if c.FlipHorizontal == nil {
		return true
	}
	return *c.FlipHorizontal
}

// GetReadEvery returns the cycle cadence of network reads.
func (c *SessionConfig) GetReadEvery() int {
	if c.ReadEvery == nil {
		return 3
	}
	return *c.ReadEvery
}

// GetLogInterval returns the statistics logging interval.
func (c *SessionConfig) GetLogInterval() time.Duration {
	return durationOr(c.LogInterval, 10*time.Second)
}

// GetOrthonormalizeEvery returns the re-orthonormalization period in cycles;
// zero disables it.
func (c *SessionConfig) GetOrthonormalizeEvery() int {
	if c.OrthonormalizeEvery == nil {
		return 300
	}
	return *c.OrthonormalizeEvery
}

// GetEstimator returns the estimator name.
func (c *SessionConfig) GetEstimator() string { return stringOr(c.Estimator, EstimatorStatic) }

// GetSyntheticStepDeg returns the per-refinement rotation of the synthetic estimator.
func (c *SessionConfig) GetSyntheticStepDeg() float64 {
	if c.SyntheticStepDeg == nil {
		return 0.5
	}
	return *c.SyntheticStepDeg
}

// GetSyntheticStepMM returns the per-refinement translation of the synthetic estimator.
func (c *SessionConfig) GetSyntheticStepMM() float64 {
	if c.SyntheticStepMM == nil {
		return 1.0
	}
	return *c.SyntheticStepMM
}

// GetCamera returns the camera intrinsics.
func (c *SessionConfig) GetCamera() CameraConfig {
	if c.Camera == nil {
		return DefaultCamera()
	}
	return *c.Camera
}

// GetTemplateDistances returns the template generation distances.
func (c *SessionConfig) GetTemplateDistances() []float64 {
	if len(c.TemplateDistances) == 0 {
		return []float64{200, 400, 600}
	}
	return c.TemplateDistances
}

// GetObjects returns the tracked objects.
func (c *SessionConfig) GetObjects() []ObjectConfig {
	if len(c.Objects) == 0 {
		return []ObjectConfig{DefaultObject()}
	}
	return c.Objects
}

// GetDebugListen returns the debug HTTP listen address.
func (c *SessionConfig) GetDebugListen() string { return stringOr(c.DebugListen, "") }

// GetGRPCListen returns the gRPC health listen address.
func (c *SessionConfig) GetGRPCListen() string { return stringOr(c.GRPCListen, "") }

// GetDBPath returns the pose log database path.
func (c *SessionConfig) GetDBPath() string { return stringOr(c.DBPath, "") }

// GetRedisAddr returns the Redis address for the pose feed.
func (c *SessionConfig) GetRedisAddr() string { return stringOr(c.RedisAddr, "") }

// GetRedisChannel returns the Redis channel name for the pose feed.
func (c *SessionConfig) GetRedisChannel() string {
	return stringOr(c.RedisChannel, "holotrack:poses")
}

// GetKeyDevice returns the serial keypad device path.
func (c *SessionConfig) GetKeyDevice() string { return stringOr(c.KeyDevice, "") }

// GetKeyBaud returns the serial keypad baud rate.
func (c *SessionConfig) GetKeyBaud() int {
	if c.KeyBaud == nil {
		return 9600
	}
	return *c.KeyBaud
}

// GetSnapshotDir returns the overlay snapshot directory.
func (c *SessionConfig) GetSnapshotDir() string { return stringOr(c.SnapshotDir, "") }

// GetSnapshotEvery returns how many presented overlays pass between snapshots.
func (c *SessionConfig) GetSnapshotEvery() int {
	if c.SnapshotEvery == nil || *c.SnapshotEvery < 1 {
		return 30
	}
	return *c.SnapshotEvery
}
