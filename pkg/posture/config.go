package posture

import "fmt"

// Default thresholds.
const (
	DefaultCalibrationFrames = 60
	DefaultNeckRatioFactor   = 0.80
	DefaultTorsoYFactor      = 1.10
	DefaultCentroidTolerance = 0.25
	DefaultEdgeMargin        = 0.01
)

// Config holds all tunable parameters for calibration and classification
type Config struct {
	// Calibration
	CalibrationFrames int // Accepted samples averaged into the baseline

	// Classification
	NeckRatioFactor   float64 // Hunching if neck ratio < baseline * factor
	TorsoYFactor      float64 // Slumping if torso Y > baseline * factor
	CentroidTolerance float64 // Off-center if |centroidX - 0.5| > tolerance

	// Geometry
	EdgeMargin float64 // Degenerate shoulder width and frame-edge margin

	// AbsenceLimit drops the baseline after this many consecutive ticks
	// without a person while monitoring. Zero keeps the baseline forever.
	AbsenceLimit int
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		CalibrationFrames: DefaultCalibrationFrames,
		NeckRatioFactor:   DefaultNeckRatioFactor,
		TorsoYFactor:      DefaultTorsoYFactor,
		CentroidTolerance: DefaultCentroidTolerance,
		EdgeMargin:        DefaultEdgeMargin,
		AbsenceLimit:      0,
	}
}

// Validate checks that the values are usable.
func (c Config) Validate() error {
	switch {
	case c.CalibrationFrames < 1:
		return fmt.Errorf("calibration frames must be positive, got %d", c.CalibrationFrames)
	case c.NeckRatioFactor <= 0 || c.NeckRatioFactor > 1:
		return fmt.Errorf("neck ratio factor must be in (0, 1], got %v", c.NeckRatioFactor)
	case c.TorsoYFactor < 1:
		return fmt.Errorf("torso Y factor must be >= 1, got %v", c.TorsoYFactor)
	case c.CentroidTolerance <= 0 || c.CentroidTolerance > 0.5:
		return fmt.Errorf("centroid tolerance must be in (0, 0.5], got %v", c.CentroidTolerance)
	case c.EdgeMargin <= 0 || c.EdgeMargin >= 0.5:
		return fmt.Errorf("edge margin must be in (0, 0.5), got %v", c.EdgeMargin)
	case c.AbsenceLimit < 0:
		return fmt.Errorf("absence limit must not be negative, got %d", c.AbsenceLimit)
	}
	return nil
}
