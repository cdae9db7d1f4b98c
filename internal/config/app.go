package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/waterlevel/internal/calibration"
	"github.com/banshee-data/waterlevel/internal/vision"
)

// DefaultConfigPath is where cmd/waterlevel looks when -config is not given.
const DefaultConfigPath = "config/waterlevel.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AppConfig is the on-disk configuration of the water level service. Every
// field is optional; the Get* methods supply defaults for missing values.
type AppConfig struct {
	// Capture
	VideoURL      *string `json:"video_url,omitempty"` // overrides the URL built from credentials
	CaptureWidth  *int    `json:"capture_width,omitempty"`
	CaptureHeight *int    `json:"capture_height,omitempty"`
	FrameSkip     *int    `json:"frame_skip,omitempty"`

	// Detection
	Calibration     []calibration.Point `json:"calibration,omitempty"`
	RowOffset       *int                `json:"row_offset,omitempty"`
	ColumnStart     *int                `json:"column_start,omitempty"`
	ColumnEnd       *int                `json:"column_end,omitempty"`
	HueLower        *[3]float64         `json:"hue_lower,omitempty"`
	HueUpper        *[3]float64         `json:"hue_upper,omitempty"`
	DrawCalibration *bool               `json:"draw_calibration,omitempty"`

	// Streaming
	BufferCapacity *int    `json:"buffer_capacity,omitempty"`
	JPEGQuality    *int    `json:"jpeg_quality,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty"` // duration string like "50ms"

	// Telemetry
	TelemetryInterval   *string `json:"telemetry_interval,omitempty"`
	TelemetryStartDelay *string `json:"telemetry_start_delay,omitempty"`
	Location            *string `json:"location,omitempty"`
	ZMQEndpoint         *string `json:"zmq_endpoint,omitempty"`

	DetectionLogDir *string `json:"detection_log_dir,omitempty"` // empty disables the detection log
}

// LoadAppConfig reads a JSON config file. Omitted fields keep their
// defaults, so partial files are fine.
func LoadAppConfig(path string) (*AppConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AppConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set. The detector and calibration
// are built once here so a bad window or table fails at load time.
func (c *AppConfig) Validate() error {
	if c.FrameSkip != nil && *c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be at least 1, got %d", *c.FrameSkip)
	}
	if c.CaptureWidth != nil && *c.CaptureWidth < 0 {
		return fmt.Errorf("capture_width must be non-negative, got %d", *c.CaptureWidth)
	}
	if c.CaptureHeight != nil && *c.CaptureHeight < 0 {
		return fmt.Errorf("capture_height must be non-negative, got %d", *c.CaptureHeight)
	}
	if c.BufferCapacity != nil && *c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", *c.BufferCapacity)
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}
	if c.Location != nil && *c.Location == "" {
		return errors.New("location must not be empty")
	}

	durations := []struct {
		name string
		val  *string
	}{
		{"poll_interval", c.PollInterval},
		{"telemetry_interval", c.TelemetryInterval},
		{"telemetry_start_delay", c.TelemetryStartDelay},
	}
	for _, d := range durations {
		if d.val == nil || *d.val == "" {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.val, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}
	if c.TelemetryInterval != nil && *c.TelemetryInterval != "" && c.GetTelemetryInterval() == 0 {
		return errors.New("telemetry_interval must be positive")
	}

	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.Curve(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	return nil
}

// DetectorConfig assembles the detector settings.
func (c *AppConfig) DetectorConfig() vision.DetectorConfig {
	d := vision.DefaultDetectorConfig()
	if c.ColumnStart != nil {
		d.ColumnStart = *c.ColumnStart
	}
	if c.ColumnEnd != nil {
		d.ColumnEnd = *c.ColumnEnd
	}
	if c.HueLower != nil {
		d.HueLower = vision.HSV(*c.HueLower)
	}
	if c.HueUpper != nil {
		d.HueUpper = vision.HSV(*c.HueUpper)
	}
	d.DrawCalibration = c.GetDrawCalibration()
	return d
}

// Curve builds the calibration curve from the configured table and offset,
// falling back to the built-in table.
func (c *AppConfig) Curve() (*calibration.Curve, error) {
	points := c.Calibration
	if len(points) == 0 {
		points = calibration.DefaultTable()
	}
	return calibration.New(points, c.GetRowOffset())
}

func (c *AppConfig) GetVideoURL() string {
	if c.VideoURL == nil {
		return ""
	}
	return *c.VideoURL
}

// GetCaptureWidth returns the requested capture width (default 720).
func (c *AppConfig) GetCaptureWidth() int {
	if c.CaptureWidth == nil || *c.CaptureWidth == 0 {
		return 720
	}
	return *c.CaptureWidth
}

// GetCaptureHeight returns the requested capture height (default 480).
func (c *AppConfig) GetCaptureHeight() int {
	if c.CaptureHeight == nil || *c.CaptureHeight == 0 {
		return 480
	}
	return *c.CaptureHeight
}

func (c *AppConfig) GetFrameSkip() int {
	if c.FrameSkip == nil {
		return 1
	}
	return *c.FrameSkip
}

func (c *AppConfig) GetRowOffset() int {
	if c.RowOffset == nil {
		if len(c.Calibration) == 0 {
			return calibration.DefaultOffset
		}
		return 0
	}
	return *c.RowOffset
}

func (c *AppConfig) GetDrawCalibration() bool {
	if c.DrawCalibration == nil {
		return false
	}
	return *c.DrawCalibration
}

func (c *AppConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 10
	}
	return *c.BufferCapacity
}

func (c *AppConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 70
	}
	return *c.JPEGQuality
}

func (c *AppConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, 50*time.Millisecond)
}

// GetTelemetryInterval returns how often the latest level is written
// (default 5 minutes).
func (c *AppConfig) GetTelemetryInterval() time.Duration {
	return parseDuration(c.TelemetryInterval, 5*time.Minute)
}

func (c *AppConfig) GetTelemetryStartDelay() time.Duration {
	return parseDuration(c.TelemetryStartDelay, 2*time.Second)
}

func (c *AppConfig) GetLocation() string {
	if c.Location == nil {
		return "camera_1"
	}
	return *c.Location
}

func (c *AppConfig) GetZMQEndpoint() string {
	if c.ZMQEndpoint == nil {
		return ""
	}
	return *c.ZMQEndpoint
}

func (c *AppConfig) GetDetectionLogDir() string {
	if c.DetectionLogDir == nil {
		return ""
	}
	return *c.DetectionLogDir
}

func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
