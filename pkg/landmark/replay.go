package landmark

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Record is the newline-delimited JSON shape shared by recordings and the
// pose sidecar stream. A record without "sample" (or with "person": false)
// means no person was detected.
type Record struct {
	Person *bool   `json:"person,omitempty"`
	Sample *Sample `json:"sample,omitempty"`
	Frame  string  `json:"frame,omitempty"` // base64 JPEG
	TS     int64   `json:"ts,omitempty"`    // unix millis
}

// Observation converts the record to an observation.
func (r Record) Observation() (Observation, error) {
	obs := Observation{At: time.Now()}
	if r.TS > 0 {
		obs.At = time.UnixMilli(r.TS)
	}
	if r.Sample != nil && (r.Person == nil || *r.Person) {
		s := *r.Sample
		obs.Sample = &s
	}
	if r.Frame != "" {
		frame, err := base64.StdEncoding.DecodeString(r.Frame)
		if err != nil {
			return Observation{}, fmt.Errorf("decode frame: %w", err)
		}
		obs.Frame = frame
	}
	return obs, nil
}

// ReplaySource yields observations from a newline-delimited JSON stream.
// Blank lines are reported as ErrNoFrame, mirroring a camera that returned
// nothing for one tick.
type ReplaySource struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	done    bool
}

// NewReplaySource creates a replay source over r. If r is an io.Closer it is
// closed by Close.
func NewReplaySource(r io.Reader) *ReplaySource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	src := &ReplaySource{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// Next returns the next recorded observation.
func (s *ReplaySource) Next(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return Observation{}, ErrClosed
	}

	if !s.scanner.Scan() {
		s.done = true
		if err := s.scanner.Err(); err != nil {
			return Observation{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return Observation{}, ErrClosed
	}
	s.line++

	line := s.scanner.Bytes()
	if len(line) == 0 {
		return Observation{}, ErrNoFrame
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Observation{}, fmt.Errorf("line %d: %w", s.line, err)
	}
	return rec.Observation()
}

// Close closes the underlying reader if it is closable.
func (s *ReplaySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
