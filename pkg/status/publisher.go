// Package status holds the most recent posture classification and annotated
// frame for concurrent readers. The sampling loop is the only writer.
package status

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/go-posture/pkg/posture"
)

// ErrNotReady is returned by Frame before the first frame is published.
var ErrNotReady = errors.New("status: frame not ready")

// Status is the public posture status.
type Status struct {
	Slouching bool   `json:"is_slouching"`
	Message   string `json:"message"`
}

// Initializing is reported before anything has been published.
var Initializing = Status{Slouching: false, Message: "Initializing..."}

// Snapshot is everything published in one tick.
type Snapshot struct {
	Status
	Phase     posture.Phase  `json:"phase"`
	Reason    posture.Reason `json:"reason,omitempty"`
	Progress  int            `json:"progress"`
	SessionID string         `json:"session_id,omitempty"`
	Seq       uint64         `json:"seq"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Notifier receives each published snapshot and frame after the lock is
// released. Implementations must not block.
type Notifier interface {
	PublishStatus(snap Snapshot)
	PublishFrame(jpeg []byte)
}

// Publisher is the single shared status/frame slot.
type Publisher struct {
	mu       sync.RWMutex
	snap     Snapshot
	frame    []byte
	frameSeq uint64

	notifiers []Notifier
}

// NewPublisher creates a publisher reporting Initializing.
func NewPublisher(notifiers ...Notifier) *Publisher {
	return &Publisher{
		snap:      Snapshot{Status: Initializing},
		notifiers: notifiers,
	}
}

// Publish replaces the held status, and the frame when one is given.
// The frame is copied; callers may reuse their buffer.
func (p *Publisher) Publish(res posture.Result, frame []byte) {
	var owned []byte
	if len(frame) > 0 {
		owned = bytes.Clone(frame)
	}

	p.mu.Lock()
	seq := p.snap.Seq + 1
	p.snap = Snapshot{
		Status:    Status{Slouching: res.Slouching, Message: res.Message},
		Phase:     res.Phase,
		Reason:    res.Reason,
		Progress:  res.Progress,
		SessionID: res.SessionID,
		Seq:       seq,
		UpdatedAt: time.Now(),
	}
	if owned != nil {
		p.frame = owned
		p.frameSeq = seq
	}
	snap := p.snap
	p.mu.Unlock()

	for _, n := range p.notifiers {
		n.PublishStatus(snap)
		if owned != nil {
			n.PublishFrame(owned)
		}
	}
}

// Status returns the latest status, or Initializing.
func (p *Publisher) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.Status
}

// Snapshot returns the latest full snapshot.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Frame returns the latest JPEG. The returned slice must not be modified.
func (p *Publisher) Frame() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.frame == nil {
		return nil, ErrNotReady
	}
	return p.frame, nil
}

// FrameAfter returns the latest frame if it is newer than seq, with its
// sequence number. Streamers pass back the returned seq on the next call.
func (p *Publisher) FrameAfter(seq uint64) ([]byte, uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.frame == nil || p.frameSeq <= seq {
		return nil, seq, false
	}
	return p.frame, p.frameSeq, true
}
