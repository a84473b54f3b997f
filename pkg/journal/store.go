package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-posture/pkg/posture"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	calibrated_at INTEGER,
	neck_ratio    REAL,
	torso_y       REAL
);
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	phase      TEXT NOT NULL,
	reason     TEXT NOT NULL,
	message    TEXT NOT NULL,
	slouching  INTEGER NOT NULL,
	at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_session ON events (session_id, at);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store provides SQLite-backed session persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	sqlDB, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; sqlite serialises writes anyway.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// StartSession records a new session. Starting an existing session is a no-op.
func (s *Store) StartSession(ctx context.Context, id string, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		id, at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// MarkCalibrated stores the baseline of a session.
func (s *Store) MarkCalibrated(ctx context.Context, id string, b posture.Baseline, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sessions SET calibrated_at = ?, neck_ratio = ?, torso_y = ? WHERE id = ?`,
		at.UTC().UnixMilli(), b.NeckRatio, b.TorsoY, id,
	)
	if err != nil {
		return fmt.Errorf("mark calibrated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark calibrated: unknown session %q", id)
	}
	return nil
}

// Append persists an event and returns its id.
func (s *Store) Append(ctx context.Context, e Event) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO events (session_id, phase, reason, message, slouching, at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		e.SessionID, e.Phase, string(e.Reason), e.Message, e.Slouching, e.At.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

// Sessions lists newest-first sessions.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	s.id,
	s.started_at,
	s.calibrated_at,
	s.neck_ratio,
	s.torso_y,
	(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id AND e.slouching = 1),
	COALESCE((SELECT MAX(e.at) FROM events e WHERE e.session_id = s.id), s.started_at)
FROM sessions s
ORDER BY s.started_at DESC, s.rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, limit)
	for rows.Next() {
		var (
			sess              Session
			started, lastAt   int64
			calibrated        sql.NullInt64
			neckRatio, torsoY sql.NullFloat64
		)
		if err := rows.Scan(&sess.ID, &started, &calibrated, &neckRatio, &torsoY, &sess.Alerts, &lastAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.UnixMilli(started).UTC()
		sess.LastEventAt = time.UnixMilli(lastAt).UTC()
		if calibrated.Valid {
			t := time.UnixMilli(calibrated.Int64).UTC()
			sess.CalibratedAt = &t
		}
		if neckRatio.Valid && torsoY.Valid {
			sess.Baseline = &posture.Baseline{NeckRatio: neckRatio.Float64, TorsoY: torsoY.Float64}
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Events lists the events of a session in the order they happened.
func (s *Store) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	var exists int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: session %q", ErrNotFound, sessionID)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, session_id, phase, reason, message, slouching, at
FROM events
WHERE session_id = ?
ORDER BY at ASC, id ASC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			reason string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Phase, &reason, &e.Message, &e.Slouching, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Reason = posture.Reason(reason)
		e.At = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
