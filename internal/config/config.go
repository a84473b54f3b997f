// Package config loads go-posture settings from POSTURE_* environment
// variables. Command-line flags in cmd/posture override what is loaded here.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/teslashibe/go-posture/pkg/posture"
)

// Landmark sources
const (
	SourceCamera = "camera"
	SourceReplay = "replay"
	SourceStream = "stream"
)

// Pose estimators (camera source only)
const (
	EstimatorYOLO   = "yolo"
	EstimatorRemote = "remote"
)

// Config holds every setting of the posture monitor.
type Config struct {
	Port      int    `env:"POSTURE_PORT"       envDefault:"5001"`
	LogLevel  string `env:"POSTURE_LOG_LEVEL"  envDefault:"info"`
	StaticDir string `env:"POSTURE_STATIC_DIR"` // dashboard assets served at /

	// Landmarks
	Source       string `env:"POSTURE_SOURCE"        envDefault:"camera"`
	ReplayPath   string `env:"POSTURE_REPLAY_PATH"`
	StreamURL    string `env:"POSTURE_STREAM_URL"    envDefault:"ws://localhost:8765/landmarks"`
	Estimator    string `env:"POSTURE_ESTIMATOR"     envDefault:"yolo"`
	ModelPath    string `env:"POSTURE_MODEL_PATH"    envDefault:"models/yolov8n-pose.onnx"`
	EstimatorURL string `env:"POSTURE_ESTIMATOR_URL" envDefault:"http://localhost:8766/pose"`

	// Camera
	CameraDevice int    `env:"POSTURE_CAMERA_DEVICE" envDefault:"0"`
	CameraPreset string `env:"POSTURE_CAMERA_PRESET" envDefault:"default"`
	Mirror       bool   `env:"POSTURE_MIRROR"        envDefault:"true"`
	Annotate     bool   `env:"POSTURE_ANNOTATE"      envDefault:"true"`

	// Loop
	RetryDelay     time.Duration `env:"POSTURE_RETRY_DELAY"     envDefault:"100ms"`
	ReplayInterval time.Duration `env:"POSTURE_REPLAY_INTERVAL" envDefault:"33ms"`       // pacing for recordings
	JournalPath    string        `env:"POSTURE_JOURNAL_PATH"    envDefault:"posture.db"` // empty disables the journal

	// Thresholds
	CalibrationFrames int     `env:"POSTURE_CALIBRATION_FRAMES" envDefault:"60"`
	NeckRatioFactor   float64 `env:"POSTURE_NECK_RATIO_FACTOR"  envDefault:"0.80"`
	TorsoYFactor      float64 `env:"POSTURE_TORSO_Y_FACTOR"     envDefault:"1.10"`
	CentroidTolerance float64 `env:"POSTURE_CENTROID_TOLERANCE" envDefault:"0.25"`
	EdgeMargin        float64 `env:"POSTURE_EDGE_MARGIN"        envDefault:"0.01"`
	AbsenceLimit      int     `env:"POSTURE_ABSENCE_LIMIT"      envDefault:"0"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Posture returns the classification thresholds.
func (c Config) Posture() posture.Config {
	return posture.Config{
		CalibrationFrames: c.CalibrationFrames,
		NeckRatioFactor:   c.NeckRatioFactor,
		TorsoYFactor:      c.TorsoYFactor,
		CentroidTolerance: c.CentroidTolerance,
		EdgeMargin:        c.EdgeMargin,
		AbsenceLimit:      c.AbsenceLimit,
	}
}

// Addr returns the listen address for the web server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks the settings that can be checked without touching devices.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	switch c.Source {
	case SourceCamera:
		switch c.Estimator {
		case EstimatorYOLO:
			if c.ModelPath == "" {
				return fmt.Errorf("model path is required for the %s estimator", EstimatorYOLO)
			}
		case EstimatorRemote:
			if c.EstimatorURL == "" {
				return fmt.Errorf("estimator URL is required for the %s estimator", EstimatorRemote)
			}
		default:
			return fmt.Errorf("unknown estimator %q (want %s or %s)", c.Estimator, EstimatorYOLO, EstimatorRemote)
		}
	case SourceReplay:
		if c.ReplayPath == "" {
			return fmt.Errorf("replay path is required for the %s source", SourceReplay)
		}
	case SourceStream:
		if c.StreamURL == "" {
			return fmt.Errorf("stream URL is required for the %s source", SourceStream)
		}
	default:
		return fmt.Errorf("unknown source %q (want %s, %s or %s)", c.Source, SourceCamera, SourceReplay, SourceStream)
	}

	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive, got %s", c.RetryDelay)
	}
	if c.ReplayInterval < 0 {
		return fmt.Errorf("replay interval must not be negative, got %s", c.ReplayInterval)
	}

	if err := c.Posture().Validate(); err != nil {
		return fmt.Errorf("posture: %w", err)
	}
	return nil
}
