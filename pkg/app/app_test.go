package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posture/internal/config"
	"github.com/teslashibe/go-posture/pkg/journal"
	"github.com/teslashibe/go-posture/pkg/landmark"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeRecording(t *testing.T, ticks int) string {
	t.Helper()
	sample := landmark.Sample{
		Nose:          landmark.Point{X: 0.5, Y: 0.3},
		LeftShoulder:  landmark.Point{X: 0.6, Y: 0.5},
		RightShoulder: landmark.Point{X: 0.4, Y: 0.5},
	}

	var b strings.Builder
	enc := json.NewEncoder(&b)
	for i := 0; i < ticks; i++ {
		require.NoError(t, enc.Encode(landmark.Record{Sample: &sample}))
	}

	path := filepath.Join(t.TempDir(), "session.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"POSTURE_PORT":               strconv.Itoa(freePort(t)),
		"POSTURE_SOURCE":             config.SourceReplay,
		"POSTURE_REPLAY_PATH":        writeRecording(t, 6),
		"POSTURE_REPLAY_INTERVAL":    "0s",
		"POSTURE_CALIBRATION_FRAMES": "3",
		"POSTURE_ANNOTATE":           "false",
		"POSTURE_JOURNAL_PATH":       filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = "kinect"

	_, err := New(cfg)
	assert.ErrorContains(t, err, "unknown source")
}

func TestInit_MissingRecording(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplayPath = filepath.Join(t.TempDir(), "missing.ndjson")

	a, err := New(cfg)
	require.NoError(t, err)
	assert.Error(t, a.Init())
}

func TestApp_ReplayEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	statusURL := "http://127.0.0.1" + cfg.Addr() + "/status"
	require.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "Correct posture")
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return a.Stats().Ticks == 6 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	a.Shutdown()

	store, err := journal.Open(cfg.JournalPath)
	require.NoError(t, err)
	defer store.Close()

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].Baseline)
	assert.Zero(t, sessions[0].Alerts)
}
