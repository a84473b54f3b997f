// Package landmark defines the body-landmark samples handed to the posture
// engine and the Source contract that produces them once per tick.
package landmark

import (
	"context"
	"errors"
	"time"
)

// Errors reported by a Source.
var (
	// ErrNoFrame means the upstream produced nothing this tick. The caller
	// should back off briefly and retry.
	ErrNoFrame = errors.New("landmark: no frame available")

	// ErrClosed means the upstream is permanently exhausted.
	ErrClosed = errors.New("landmark: source closed")
)

// Point is a 2D position in normalized image coordinates (0-1 on both axes).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sample holds the three landmarks used for posture analysis.
type Sample struct {
	Nose          Point `json:"nose"`
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
}

// Points returns the landmarks in a fixed order: nose, left, right.
func (s Sample) Points() [3]Point {
	return [3]Point{s.Nose, s.LeftShoulder, s.RightShoulder}
}

// Observation is what a Source yields per tick.
// A nil Sample means no person was detected.
type Observation struct {
	Sample *Sample   `json:"sample,omitempty"`
	Frame  []byte    `json:"-"` // JPEG, optional
	At     time.Time `json:"at"`
}

// HasPerson reports whether a person was detected.
func (o Observation) HasPerson() bool {
	return o.Sample != nil
}

// Source produces one observation per call.
type Source interface {
	// Next blocks until the next observation is available.
	// It returns ErrNoFrame for transient gaps and ErrClosed when exhausted.
	Next(ctx context.Context) (Observation, error)

	// Close releases resources
	Close() error
}
