// Package monitor drives the posture machine: it pulls observations from a
// landmark source, advances the machine one tick per observation and
// publishes each result with its frame.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posture/pkg/landmark"
	"github.com/teslashibe/go-posture/pkg/posture"
	"github.com/teslashibe/go-posture/pkg/status"
)

// Annotator draws a tick's verdict onto its frame.
type Annotator interface {
	Annotate(frame []byte, sample *landmark.Sample, res posture.Result) ([]byte, error)
}

// Recorder receives every tick, with the baseline while monitoring.
type Recorder interface {
	Record(res posture.Result, baseline *posture.Baseline)
}

// Stats counts loop activity.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
}

// Loop is the sampling loop. It owns the machine; other goroutines read
// its state through Session.
type Loop struct {
	config    Config
	source    landmark.Source
	machine   *posture.Machine
	publisher *status.Publisher
	logger    *slog.Logger

	mu      sync.RWMutex
	session posture.Snapshot

	reset   atomic.Bool
	running atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64

	last posture.Result // loop goroutine only
}

// New creates a loop. The source is owned by the caller.
func New(source landmark.Source, machine *posture.Machine, publisher *status.Publisher, opts ...Option) *Loop {
	cfg := newConfig(opts)
	return &Loop{
		config:    cfg,
		source:    source,
		machine:   machine,
		publisher: publisher,
		logger:    cfg.Logger,
		session:   machine.Snapshot(),
	}
}

// Run ticks until ctx is cancelled (returns nil) or the source is closed
// (returns an error wrapping landmark.ErrClosed). Any other source error
// skips the tick and retries after RetryDelay.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	cfg := l.machine.Config()
	l.logger.Info("posture monitor started",
		"calibration_frames", cfg.CalibrationFrames,
		"absence_limit", cfg.AbsenceLimit,
		"retry_delay", l.config.RetryDelay)

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		obs, err := l.source.Next(ctx)
		switch {
		case err == nil:
			l.tick(obs)
			if wait := l.config.Interval - time.Since(start); wait > 0 && !sleep(ctx, wait) {
				return nil
			}
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, landmark.ErrClosed):
			l.logger.Info("landmark source closed", "ticks", l.ticks.Load())
			return fmt.Errorf("landmark source: %w", err)
		case errors.Is(err, landmark.ErrNoFrame):
			l.logger.Debug("no frame", "error", err)
		default:
			l.logger.Warn("landmark source failed", "error", err)
		}

		l.skipped.Add(1)
		if !sleep(ctx, l.config.RetryDelay) {
			return nil
		}
	}
}

func (l *Loop) tick(obs landmark.Observation) {
	if l.reset.CompareAndSwap(true, false) {
		l.machine.Reset()
		l.logger.Info("session reset")
	}

	prev := l.machine.Phase()
	res := l.machine.Advance(posture.FromSample(obs.Sample, l.machine.Config().EdgeMargin))
	l.ticks.Add(1)

	var baseline *posture.Baseline
	if b, ok := l.machine.Baseline(); ok {
		baseline = &b
	}
	l.logChange(prev, res, baseline)

	frame := obs.Frame
	if frame != nil && l.config.Annotator != nil {
		annotated, err := l.config.Annotator.Annotate(frame, obs.Sample, res)
		if err != nil {
			l.logger.Debug("annotate failed", "error", err)
		} else {
			frame = annotated
		}
	}

	l.publisher.Publish(res, frame)
	if l.config.Recorder != nil {
		l.config.Recorder.Record(res, baseline)
	}

	snap := l.machine.Snapshot()
	l.mu.Lock()
	l.session = snap
	l.mu.Unlock()

	l.last = res
}

func (l *Loop) logChange(prev posture.Phase, res posture.Result, baseline *posture.Baseline) {
	if res.Phase != prev {
		l.logger.Info("phase changed", "from", prev, "to", res.Phase, "session", res.SessionID)
	}

	switch {
	case res.Reason == posture.ReasonCalibrated && baseline != nil:
		l.logger.Info("calibration complete",
			"session", res.SessionID,
			"neck_ratio", baseline.NeckRatio,
			"torso_y", baseline.TorsoY)
	case res.Reason == posture.ReasonCalibrating:
		if res.Progress != l.last.Progress {
			l.logger.Debug("calibrating", "session", res.SessionID, "progress", res.Progress)
		}
	case res.Message != l.last.Message:
		l.logger.Info("posture changed",
			"session", res.SessionID,
			"message", res.Message,
			"slouching", res.Slouching)
	}
}

// RequestReset drops the current session on the next tick.
func (l *Loop) RequestReset() {
	l.reset.Store(true)
}

// Session returns the machine state as of the last tick.
func (l *Loop) Session() posture.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

// Thresholds returns the machine's configuration.
func (l *Loop) Thresholds() posture.Config {
	return l.machine.Config()
}

// Stats returns tick counters.
func (l *Loop) Stats() Stats {
	return Stats{Ticks: l.ticks.Load(), Skipped: l.skipped.Load()}
}

// IsRunning reports whether Run is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// sleep waits for d or until ctx is done. It reports false if ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
