// Package web serves the posture status, the annotated camera feed and the
// session journal over HTTP and websockets.
package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/hub"
	"github.com/teslashibe/go-posture/pkg/journal"
	"github.com/teslashibe/go-posture/pkg/posture"
	"github.com/teslashibe/go-posture/pkg/status"
)

const (
	maxLogs            = 500
	defaultFrameRate   = 30
	defaultSessionList = 20
)

// Monitor is the view of the sampling loop the dashboard needs.
type Monitor interface {
	Session() posture.Snapshot
	Thresholds() posture.Config
	RequestReset()
}

// Journal lists past sessions.
type Journal interface {
	Sessions(ctx context.Context, limit int) ([]journal.Session, error)
	Events(ctx context.Context, sessionID string, limit int) ([]journal.Event, error)
}

// LogEntry is a change of verdict shown in the dashboard log.
type LogEntry struct {
	Time      string `json:"time"`
	Type      string `json:"type"` // reason, e.g. hunching, correct
	Message   string `json:"message"`
	Slouching bool   `json:"is_slouching"`
}

// Config holds server settings
type Config struct {
	Addr      string
	StaticDir string // served at / when set
	FrameRate int    // MJPEG poll rate
}

// Server is the web dashboard server. It implements status.Notifier so the
// publisher can push every tick to websocket viewers.
type Server struct {
	app    *fiber.App
	config Config

	publisher *status.Publisher
	monitor   Monitor
	journal   Journal

	// Log buffer (last 500 entries)
	logs        []LogEntry
	lastMessage string
	logsMu      sync.RWMutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	logHub    *hub.Hub
	cameraHub *hub.Hub

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewServer creates the server. Call Attach before Start; journal may be nil.
func NewServer(cfg Config, j Journal) *Server {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaultFrameRate
	}

	s := &Server{
		config:    cfg,
		journal:   j,
		logs:      make([]LogEntry, 0, maxLogs),
		statusHub: hub.New("status"),
		logHub:    hub.New("logs"),
		cameraHub: hub.New("camera"),
		done:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Posture Monitor",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/status", s.handleStatus)
	app.Get("/current_frame", s.handleCurrentFrame)
	app.Get("/video_feed", s.handleVideoFeed)

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleSnapshot)
	api.Get("/session", s.handleSession)
	api.Post("/session/reset", s.handleReset)
	api.Get("/sessions", s.handleSessions)
	api.Get("/sessions/:id/events", s.handleSessionEvents)
	api.Get("/config", s.handleConfig)
	api.Get("/logs", s.handleGetLogs)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Attach sets the publisher and sampling loop the handlers read from.
func (s *Server) Attach(p *status.Publisher, m Monitor) {
	s.publisher = p
	s.monitor = m
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs until ctx is done. Start calls it; tests driving App
// directly call it themselves.
func (s *Server) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)
	go s.cameraHub.Run(ctx)
}

// Start runs the hubs and listens until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.publisher == nil || s.monitor == nil {
		return errors.New("web: Attach was not called")
	}
	s.Run(ctx)

	log.Info("web dashboard listening", "addr", s.config.Addr)
	return s.app.Listen(s.config.Addr)
}

// PublishStatus broadcasts the snapshot and logs verdict changes.
func (s *Server) PublishStatus(snap status.Snapshot) {
	if err := s.statusHub.BroadcastJSON(snap); err != nil {
		log.Warn("status broadcast failed", "error", err)
	}

	s.logsMu.Lock()
	if snap.Message == s.lastMessage {
		s.logsMu.Unlock()
		return
	}
	s.lastMessage = snap.Message
	s.logsMu.Unlock()

	// Calibration progress changes every tick; log only its start.
	if snap.Reason == posture.ReasonCalibrating && snap.Progress > 0 {
		return
	}
	s.AddLog(string(snap.Reason), snap.Message, snap.Slouching)
}

// PublishFrame sends the frame to camera viewers.
func (s *Server) PublishFrame(jpeg []byte) {
	if s.cameraHub.ClientCount() == 0 {
		return
	}
	s.cameraHub.BroadcastBinary(jpeg)
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string, slouching bool) {
	entry := LogEntry{
		Time:      time.Now().Format("15:04:05"),
		Type:      logType,
		Message:   message,
		Slouching: slouching,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	if err := s.logHub.BroadcastJSON(entry); err != nil {
		log.Warn("log broadcast failed", "error", err)
	}
}

// Logs returns a copy of the log buffer.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// Shutdown stops streams, hubs and the listener.
func (s *Server) Shutdown() error {
	s.once.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
	return s.app.Shutdown()
}
