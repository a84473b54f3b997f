package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/posture"
)

const (
	queueSize    = 128
	drainTimeout = 2 * time.Second
)

type write struct {
	res        posture.Result
	baseline   *posture.Baseline
	newSession bool
	at         time.Time
}

// Recorder turns the stream of tick results into journal writes. Only
// changes are written: a new session, or a new reason within a session.
// Writes happen on the Run goroutine so the sampling loop never waits on disk.
type Recorder struct {
	store *Store
	queue chan write
	done  chan struct{}

	// owned by the goroutine calling Record
	session string
	reason  posture.Reason

	dropped atomic.Uint64
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store: store,
		queue: make(chan write, queueSize),
		done:  make(chan struct{}),
	}
}

// Record notes one tick. baseline is stored when the tick completed a
// calibration. Record must be called from a single goroutine and never blocks.
func (r *Recorder) Record(res posture.Result, baseline *posture.Baseline) {
	newSession := res.SessionID != "" && res.SessionID != r.session
	if !newSession && res.Reason == r.reason {
		return
	}
	r.reason = res.Reason
	if res.SessionID == "" {
		return
	}
	r.session = res.SessionID

	w := write{res: res, newSession: newSession, at: time.Now()}
	if res.Reason == posture.ReasonCalibrated && baseline != nil {
		b := *baseline
		w.baseline = &b
	}

	select {
	case r.queue <- w:
	default:
		if r.dropped.Add(1)%10 == 1 {
			log.Warn("journal queue full, dropping event", "dropped", r.dropped.Load())
		}
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case w := <-r.queue:
			r.apply(ctx, w)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case w := <-r.queue:
					r.apply(flushCtx, w)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has flushed and returned.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Dropped returns how many events were lost to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) apply(ctx context.Context, w write) {
	id := w.res.SessionID

	if w.newSession {
		if err := r.store.StartSession(ctx, id, w.at); err != nil {
			log.Warn("journal write failed", "session", id, "error", err)
			return
		}
	}

	_, err := r.store.Append(ctx, Event{
		SessionID: id,
		Phase:     w.res.Phase.String(),
		Reason:    w.res.Reason,
		Message:   w.res.Message,
		Slouching: w.res.Slouching,
		At:        w.at,
	})
	if err != nil {
		log.Warn("journal write failed", "session", id, "error", err)
		return
	}

	if w.baseline != nil {
		if err := r.store.MarkCalibrated(ctx, id, *w.baseline, w.at); err != nil {
			log.Warn("journal write failed", "session", id, "error", err)
		}
	}
}
