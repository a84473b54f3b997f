package landmark

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-posture/internal/log"
)

// StreamConfig configures a StreamSource.
type StreamConfig struct {
	URL            string        // ws:// or wss:// endpoint of the pose sidecar
	FrameTimeout   time.Duration // Next reports ErrNoFrame after waiting this long
	ReconnectDelay time.Duration // Minimum gap between reconnect attempts
}

// DefaultStreamConfig returns defaults for a sidecar on localhost.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:            "ws://localhost:8765/landmarks",
		FrameTimeout:   500 * time.Millisecond,
		ReconnectDelay: 2 * time.Second,
	}
}

// StreamSource receives landmark records pushed by a pose-estimation sidecar
// over a websocket. Only the most recent record is kept; a slow consumer
// skips stale ones.
type StreamSource struct {
	config StreamConfig
	dialer websocket.Dialer

	mu          sync.Mutex
	ws          *websocket.Conn
	lastAttempt time.Time
	closed      bool

	latest chan Record
}

// NewStreamSource creates a stream source. The connection is opened lazily
// on the first call to Next.
func NewStreamSource(cfg StreamConfig) *StreamSource {
	return &StreamSource{
		config: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		latest: make(chan Record, 1),
	}
}

// Next returns the most recent record from the sidecar.
func (s *StreamSource) Next(ctx context.Context) (Observation, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return Observation{}, err
	}

	timer := time.NewTimer(s.config.FrameTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Observation{}, ctx.Err()
	case rec := <-s.latest:
		return rec.Observation()
	case <-timer.C:
		return Observation{}, ErrNoFrame
	}
}

// ensureConnected dials the sidecar if there is no live connection.
// Failed dials are reported as ErrNoFrame so the caller keeps retrying.
func (s *StreamSource) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.ws != nil {
		return nil
	}
	if time.Since(s.lastAttempt) < s.config.ReconnectDelay {
		return ErrNoFrame
	}
	s.lastAttempt = time.Now()

	ws, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		log.Warn("pose sidecar unreachable", "url", s.config.URL, "error", err)
		return fmt.Errorf("%w: dial: %v", ErrNoFrame, err)
	}
	log.Info("pose sidecar connected", "url", s.config.URL)

	s.ws = ws
	go s.readLoop(ws)
	return nil
}

// readLoop decodes records until the connection fails.
func (s *StreamSource) readLoop(ws *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.ws == ws {
			s.ws = nil
		}
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Warn("pose sidecar disconnected", "error", err)
			}
			return
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Debug("dropping malformed landmark record", "error", err)
			continue
		}
		s.offer(rec)
	}
}

// offer replaces any unconsumed record with rec.
func (s *StreamSource) offer(rec Record) {
	for {
		select {
		case s.latest <- rec:
			return
		default:
		}
		select {
		case <-s.latest:
		default:
		}
	}
}

// Close disconnects from the sidecar. Subsequent calls to Next return ErrClosed.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.ws == nil {
		return nil
	}
	err := s.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.ws.Close()
	s.ws = nil
	return err
}
