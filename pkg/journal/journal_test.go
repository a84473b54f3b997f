package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posture/pkg/posture"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestStore_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartSession(ctx, "s1", t0))
	require.NoError(t, store.StartSession(ctx, "s1", t0.Add(time.Hour)), "restart is a no-op")

	_, err := store.Append(ctx, Event{SessionID: "s1", Phase: "calibrating", Reason: posture.ReasonCalibrating, Message: "Sit straight! Calibration 1%", At: t0})
	require.NoError(t, err)

	baseline := posture.Baseline{NeckRatio: 0.5, TorsoY: 0.5}
	require.NoError(t, store.MarkCalibrated(ctx, "s1", baseline, t0.Add(2*time.Second)))

	_, err = store.Append(ctx, Event{SessionID: "s1", Phase: "monitoring", Reason: posture.ReasonHunching, Message: posture.MsgHunching, Slouching: true, At: t0.Add(5 * time.Second)})
	require.NoError(t, err)

	sessions, err := store.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	calibrated := t0.Add(2 * time.Second)
	want := Session{
		ID:           "s1",
		StartedAt:    t0,
		CalibratedAt: &calibrated,
		Baseline:     &baseline,
		Alerts:       1,
		LastEventAt:  t0.Add(5 * time.Second),
	}
	if diff := cmp.Diff(want, sessions[0]); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}

	events, err := store.Events(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, posture.ReasonCalibrating, events[0].Reason)
	assert.Equal(t, posture.ReasonHunching, events[1].Reason)
	assert.True(t, events[1].Slouching)
}

func TestStore_MarkCalibratedUnknownSession(t *testing.T) {
	err := openTestStore(t).MarkCalibrated(context.Background(), "nope", posture.Baseline{}, time.Now())
	assert.Error(t, err)
}

func TestStore_EventsUnknownSession(t *testing.T) {
	_, err := openTestStore(t).Events(context.Background(), "nope", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.StartSession(ctx, id, t0.Add(time.Duration(i)*time.Minute)))
	}

	sessions, err := store.Sessions(ctx, 2)
	require.NoError(t, err)
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"c", "b"}, ids)

	_, err = store.Sessions(ctx, 0)
	assert.Error(t, err)
}

func TestRecorder_WritesOnlyChanges(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	baseline := posture.Baseline{NeckRatio: 0.4, TorsoY: 0.6}
	ticks := []posture.Result{
		{Phase: posture.PhaseWaiting, Reason: posture.ReasonWaiting, Message: posture.MsgWaiting},
		{Phase: posture.PhaseCalibrating, Reason: posture.ReasonWaiting, Message: posture.MsgWaiting, SessionID: "s1"},
		{Phase: posture.PhaseCalibrating, Reason: posture.ReasonCalibrating, Message: "Sit straight! Calibration 50%", Progress: 50, SessionID: "s1"},
		{Phase: posture.PhaseCalibrating, Reason: posture.ReasonCalibrating, Message: "Sit straight! Calibration 75%", Progress: 75, SessionID: "s1"},
		{Phase: posture.PhaseMonitoring, Reason: posture.ReasonCalibrated, Message: "Sit straight! Calibration 100%", Progress: 100, SessionID: "s1"},
		{Phase: posture.PhaseMonitoring, Reason: posture.ReasonCorrect, Message: posture.MsgCorrect, Progress: 100, SessionID: "s1"},
		{Phase: posture.PhaseMonitoring, Reason: posture.ReasonCorrect, Message: posture.MsgCorrect, Progress: 100, SessionID: "s1"},
		{Phase: posture.PhaseMonitoring, Reason: posture.ReasonSlumping, Message: posture.MsgSlumping, Slouching: true, Progress: 100, SessionID: "s1"},
	}
	for _, res := range ticks {
		rec.Record(res, &baseline)
	}

	cancel()
	select {
	case <-rec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not flush")
	}

	events, err := store.Events(context.Background(), "s1", 100)
	require.NoError(t, err)

	got := make([]posture.Reason, len(events))
	for i, e := range events {
		got[i] = e.Reason
	}
	want := []posture.Reason{
		posture.ReasonWaiting,
		posture.ReasonCalibrating,
		posture.ReasonCalibrated,
		posture.ReasonCorrect,
		posture.ReasonSlumping,
	}
	assert.Equal(t, want, got)

	sessions, err := store.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	if diff := cmp.Diff(&baseline, sessions[0].Baseline, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("baseline mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, sessions[0].Alerts)
	assert.Zero(t, rec.Dropped())
}
