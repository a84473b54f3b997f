// Package posture turns landmark samples into posture classifications.
//
// Extract derives geometric metrics from a single sample. Machine runs the
// session lifecycle: it waits for a person, averages a calibration baseline,
// then classifies every following sample against that baseline.
package posture

import (
	"math"

	"github.com/teslashibe/go-posture/pkg/landmark"
)

// Metrics are the per-tick geometric measurements of a sample.
type Metrics struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	NeckRatio     float64 `json:"neck_ratio"`    // nose-to-shoulder-midpoint distance / shoulder width
	TorsoY        float64 `json:"torso_y"`       // Y of the shoulder midpoint
	CentroidX     float64 `json:"centroid_x"`    // mean X of the three landmarks
	OutOfBounds   bool    `json:"out_of_bounds"` // any landmark within margin of a frame edge
}

// Extract computes metrics for a sample. It returns false when the shoulders
// are closer than margin, since the ratios are unstable for such detections.
func Extract(s landmark.Sample, margin float64) (Metrics, bool) {
	width := distance(s.LeftShoulder, s.RightShoulder)
	if !(width >= margin) {
		return Metrics{}, false
	}

	mid := landmark.Point{
		X: (s.LeftShoulder.X + s.RightShoulder.X) / 2,
		Y: (s.LeftShoulder.Y + s.RightShoulder.Y) / 2,
	}

	m := Metrics{
		ShoulderWidth: width,
		NeckRatio:     distance(s.Nose, mid) / width,
		TorsoY:        mid.Y,
		CentroidX:     (s.Nose.X + s.LeftShoulder.X + s.RightShoulder.X) / 3,
	}

	for _, p := range s.Points() {
		if nearEdge(p, margin) {
			m.OutOfBounds = true
			break
		}
	}

	if math.IsNaN(m.NeckRatio) || math.IsInf(m.NeckRatio, 0) || math.IsNaN(m.CentroidX) {
		return Metrics{}, false
	}
	return m, true
}

func distance(a, b landmark.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func nearEdge(p landmark.Point, margin float64) bool {
	return p.X < margin || p.X > 1-margin || p.Y < margin || p.Y > 1-margin
}
