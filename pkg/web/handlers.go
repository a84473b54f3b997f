package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/hub"
	"github.com/teslashibe/go-posture/pkg/journal"
	"github.com/teslashibe/go-posture/pkg/status"
)

// handleStatus returns {"is_slouching", "message"}
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.publisher.Status())
}

// handleSnapshot returns the full published snapshot
func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.publisher.Snapshot())
}

// handleCurrentFrame returns the latest annotated JPEG
func (s *Server) handleCurrentFrame(c *fiber.Ctx) error {
	frame, err := s.publisher.Frame()
	if errors.Is(err, status.ErrNotReady) {
		return c.Status(fiber.StatusNotFound).SendString("Camera initializing...")
	}
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame)
}

// handleVideoFeed streams frames as multipart MJPEG. ?frames=N stops after N
// frames.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	limit := c.QueryInt("frames", 0)
	if limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "frames must not be negative"})
	}

	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary=frame")
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamFrames(w, limit)
	})
	return nil
}

func (s *Server) streamFrames(w *bufio.Writer, limit int) {
	ticker := time.NewTicker(time.Second / time.Duration(s.config.FrameRate))
	defer ticker.Stop()

	var seq uint64
	sent := 0
	for {
		if frame, next, ok := s.publisher.FrameAfter(seq); ok {
			seq = next
			if err := writePart(w, frame); err != nil {
				log.Debug("mjpeg viewer gone", "frames", sent)
				return
			}
			sent++
			if limit > 0 && sent >= limit {
				return
			}
		}

		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func writePart(w *bufio.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// handleSession returns the machine state and the published snapshot
func (s *Server) handleSession(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"session": s.monitor.Session(),
		"status":  s.publisher.Snapshot(),
	})
}

// handleReset drops the current session; the next tick waits for a person
func (s *Server) handleReset(c *fiber.Ctx) error {
	s.monitor.RequestReset()
	log.Info("session reset requested", "remote", c.IP())
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"reset": true})
}

// handleSessions lists recent sessions from the journal
func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "journal disabled"})
	}

	limit := c.QueryInt("limit", defaultSessionList)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be positive"})
	}

	sessions, err := s.journal.Sessions(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(sessions)
}

// handleSessionEvents lists the verdict changes of one session
func (s *Server) handleSessionEvents(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "journal disabled"})
	}

	limit := c.QueryInt("limit", maxLogs)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be positive"})
	}

	events, err := s.journal.Events(c.UserContext(), c.Params("id"), limit)
	if errors.Is(err, journal.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(events)
}

// handleConfig returns the thresholds in use
func (s *Server) handleConfig(c *fiber.Ctx) error {
	cfg := s.monitor.Thresholds()
	return c.JSON(fiber.Map{
		"calibration_frames": cfg.CalibrationFrames,
		"neck_ratio_factor":  cfg.NeckRatioFactor,
		"torso_y_factor":     cfg.TorsoYFactor,
		"centroid_tolerance": cfg.CentroidTolerance,
		"edge_margin":        cfg.EdgeMargin,
		"absence_limit":      cfg.AbsenceLimit,
	})
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// handleStatusWS sends the current snapshot, then every new one
func (s *Server) handleStatusWS(c *websocket.Conn) {
	data, err := json.Marshal(s.publisher.Snapshot())
	if err != nil {
		log.Warn("encode snapshot", "error", err)
		return
	}
	hub.NewClient(s.statusHub, c, hub.NewJSONMessage(data)).Run()
}

// handleLogsWS sends the recent logs, then every new entry
func (s *Server) handleLogsWS(c *websocket.Conn) {
	logs := s.Logs()
	initial := make([]hub.Message, 0, len(logs))
	for _, entry := range logs {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		initial = append(initial, hub.NewJSONMessage(data))
	}
	hub.NewClient(s.logHub, c, initial...).Run()
}

// handleCameraWS sends the latest frame, then every new one
func (s *Server) handleCameraWS(c *websocket.Conn) {
	var initial []hub.Message
	if frame, err := s.publisher.Frame(); err == nil {
		initial = append(initial, hub.NewBinaryMessage(frame))
	}
	hub.NewClient(s.cameraHub, c, initial...).Run()
}
