// Package journal keeps a sqlite history of posture sessions: when a person
// sat down, when calibration finished and every change of verdict after
// that.
package journal

import (
	"errors"
	"time"

	"github.com/teslashibe/go-posture/pkg/posture"
)

// ErrNotFound is returned for unknown sessions.
var ErrNotFound = errors.New("journal: not found")

// Event is one change of verdict within a session.
type Event struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase"`
	Reason    posture.Reason `json:"reason"`
	Message   string         `json:"message"`
	Slouching bool           `json:"is_slouching"`
	At        time.Time      `json:"at"`
}

// Session summarises one detection session.
type Session struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	CalibratedAt *time.Time        `json:"calibrated_at,omitempty"`
	Baseline     *posture.Baseline `json:"baseline,omitempty"`
	Alerts       int               `json:"alerts"`
	LastEventAt  time.Time         `json:"last_event_at"`
}
