package posture

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// good is a centred, upright measurement matching a {0.5, 0.3} baseline.
var good = Metrics{ShoulderWidth: 0.2, NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.5}

func newTestMachine(cfg Config) *Machine {
	m := NewMachine(cfg)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
	return m
}

// calibrated returns a machine that has finished calibrating on good.
func calibrated(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m := newTestMachine(cfg)
	m.Advance(Valid(good))
	for i := 0; i < cfg.CalibrationFrames; i++ {
		m.Advance(Valid(good))
	}
	require.Equal(t, PhaseMonitoring, m.Phase())
	return m
}

func TestMachine_StartsWaiting(t *testing.T) {
	m := NewMachine(DefaultConfig())
	assert.Equal(t, PhaseWaiting, m.Phase())

	_, ok := m.Baseline()
	assert.False(t, ok)
}

func TestMachine_WaitingIgnoresAbsence(t *testing.T) {
	m := newTestMachine(DefaultConfig())

	for _, in := range []Input{NoPerson(), Invalid(), NoPerson()} {
		res := m.Advance(in)
		assert.Equal(t, Result{Message: MsgWaiting, Phase: PhaseWaiting, Reason: ReasonWaiting}, res)
	}
	assert.Equal(t, PhaseWaiting, m.Phase())
}

func TestMachine_FirstValidSampleStartsCalibration(t *testing.T) {
	m := newTestMachine(DefaultConfig())

	res := m.Advance(Valid(good))

	assert.Equal(t, PhaseCalibrating, m.Phase())
	assert.Equal(t, MsgWaiting, res.Message)
	assert.False(t, res.Slouching)
	assert.Equal(t, "session-1", res.SessionID)

	// The triggering sample only opens the session; the list starts empty.
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.Samples)
	assert.Equal(t, "session-1", snap.SessionID)
}

func TestMachine_CalibrationProgress(t *testing.T) {
	m := newTestMachine(DefaultConfig())
	m.Advance(Valid(good))

	res := m.Advance(Valid(good))
	assert.Equal(t, "Sit straight! Calibration 1%", res.Message)
	assert.Equal(t, 1, res.Progress)

	for i := 0; i < 29; i++ {
		res = m.Advance(Valid(good))
	}
	assert.Equal(t, "Sit straight! Calibration 50%", res.Message)
	assert.False(t, res.Slouching)
	assert.Equal(t, ReasonCalibrating, res.Reason)

	// Absent ticks repeat the same progress and append nothing.
	for _, in := range []Input{NoPerson(), Invalid()} {
		res = m.Advance(in)
		assert.Equal(t, "Sit straight! Calibration 50%", res.Message)
		assert.Equal(t, PhaseCalibrating, res.Phase)
	}
	assert.Equal(t, 30, m.Snapshot().Samples)
}

func TestMachine_CalibrationComputesBaseline(t *testing.T) {
	cfg := DefaultConfig()
	m := newTestMachine(cfg)
	m.Advance(Valid(good))

	// Alternate two postures so the mean differs from either sample.
	var res Result
	for i := 0; i < cfg.CalibrationFrames; i++ {
		s := good
		if i%2 == 0 {
			s.NeckRatio, s.TorsoY = 0.4, 0.2
		} else {
			s.NeckRatio, s.TorsoY = 0.6, 0.4
		}
		require.Equal(t, PhaseCalibrating, m.Phase(), "tick %d", i)
		res = m.Advance(Valid(s))
	}

	assert.Equal(t, PhaseMonitoring, m.Phase())
	assert.Equal(t, PhaseMonitoring, res.Phase)
	assert.Equal(t, ReasonCalibrated, res.Reason)
	assert.Equal(t, "Sit straight! Calibration 100%", res.Message)

	b, ok := m.Baseline()
	require.True(t, ok)
	assert.InDelta(t, 0.5, b.NeckRatio, 1e-9)
	assert.InDelta(t, 0.3, b.TorsoY, 1e-9)
}

func TestMachine_CalibrationNeedsExactlyConfiguredFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationFrames = 5
	m := newTestMachine(cfg)
	m.Advance(Valid(good))

	for i := 0; i < 4; i++ {
		m.Advance(Valid(good))
		m.Advance(NoPerson())
	}
	assert.Equal(t, PhaseCalibrating, m.Phase())

	m.Advance(Valid(good))
	assert.Equal(t, PhaseMonitoring, m.Phase())
}

func TestClassify_RuleOrder(t *testing.T) {
	cfg := DefaultConfig()
	b := Baseline{NeckRatio: 0.5, TorsoY: 0.3}

	tests := []struct {
		name      string
		metrics   Metrics
		slouching bool
		message   string
		reason    Reason
	}{
		{"correct", good, false, MsgCorrect, ReasonCorrect},
		{"off-center right", Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.8}, true, MsgOffCenter, ReasonOffCenter},
		{"off-center left", Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.2}, true, MsgOffCenter, ReasonOffCenter},
		{"edge of tolerance", Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.74}, false, MsgCorrect, ReasonCorrect},
		{"out of bounds", Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.5, OutOfBounds: true}, true, MsgOffCenter, ReasonOffCenter},
		{"framing beats hunching", Metrics{NeckRatio: 0.1, TorsoY: 0.9, CentroidX: 0.8}, true, MsgOffCenter, ReasonOffCenter},
		{"hunching", Metrics{NeckRatio: 0.39, TorsoY: 0.3, CentroidX: 0.5}, true, MsgHunching, ReasonHunching},
		{"just above neck threshold", Metrics{NeckRatio: 0.41, TorsoY: 0.3, CentroidX: 0.5}, false, MsgCorrect, ReasonCorrect},
		{"hunching beats slumping", Metrics{NeckRatio: 0.39, TorsoY: 0.5, CentroidX: 0.5}, true, MsgHunching, ReasonHunching},
		{"slumping", Metrics{NeckRatio: 0.5, TorsoY: 0.34, CentroidX: 0.5}, true, MsgSlumping, ReasonSlumping},
		{"just below torso threshold", Metrics{NeckRatio: 0.5, TorsoY: 0.32, CentroidX: 0.5}, false, MsgCorrect, ReasonCorrect},
		{"leaning back is fine", Metrics{NeckRatio: 0.9, TorsoY: 0.2, CentroidX: 0.5}, false, MsgCorrect, ReasonCorrect},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			slouching, message, reason := Classify(tc.metrics, b, cfg)
			assert.Equal(t, tc.slouching, slouching)
			assert.Equal(t, tc.message, message)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestClassify_UsesConfiguredFactors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NeckRatioFactor = 0.5
	b := Baseline{NeckRatio: 0.5, TorsoY: 0.3}

	slouching, _, _ := Classify(Metrics{NeckRatio: 0.3, TorsoY: 0.3, CentroidX: 0.5}, b, cfg)
	assert.False(t, slouching, "0.3 is above 0.5*0.5")

	cfg.CentroidTolerance = 0.1
	_, message, _ := Classify(Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.65}, b, cfg)
	assert.Equal(t, MsgOffCenter, message)
}

func TestMachine_MonitoringOffCenterIgnoresBaseline(t *testing.T) {
	m := calibrated(t, DefaultConfig())

	res := m.Advance(Valid(Metrics{ShoulderWidth: 0.2, NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.8}))
	assert.True(t, res.Slouching)
	assert.Equal(t, MsgOffCenter, res.Message)
}

func TestMachine_MonitoringHunchThreshold(t *testing.T) {
	m := calibrated(t, DefaultConfig())

	res := m.Advance(Valid(Metrics{NeckRatio: 0.39, TorsoY: 0.3, CentroidX: 0.5}))
	assert.True(t, res.Slouching)
	assert.Equal(t, MsgHunching, res.Message)

	res = m.Advance(Valid(Metrics{NeckRatio: 0.41, TorsoY: 0.3, CentroidX: 0.5}))
	assert.False(t, res.Slouching)
	assert.Equal(t, MsgCorrect, res.Message)
}

// The baseline survives any number of absent ticks. A different person
// arriving afterwards inherits it; this is the intended default.
func TestMachine_MonitoringKeepsBaselineWhenPersonLeaves(t *testing.T) {
	m := calibrated(t, DefaultConfig())
	before, _ := m.Baseline()

	for i := 0; i < 1000; i++ {
		res := m.Advance(NoPerson())
		require.Equal(t, Result{
			Message:   MsgNoPerson,
			Phase:     PhaseMonitoring,
			Progress:  100,
			Reason:    ReasonAbsent,
			SessionID: "session-1",
		}, res)
	}

	after, ok := m.Baseline()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, 1000, m.Snapshot().Absent)

	m.Advance(Valid(good))
	assert.Equal(t, 0, m.Snapshot().Absent)
}

func TestMachine_AbsenceLimitRestartsSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationFrames = 3
	cfg.AbsenceLimit = 5
	m := calibrated(t, cfg)

	for i := 0; i < 4; i++ {
		res := m.Advance(Invalid())
		require.Equal(t, PhaseMonitoring, res.Phase)
	}
	// A valid sample resets the absence count.
	m.Advance(Valid(good))
	for i := 0; i < 4; i++ {
		m.Advance(NoPerson())
	}
	assert.Equal(t, PhaseMonitoring, m.Phase())

	res := m.Advance(NoPerson())
	assert.Equal(t, PhaseWaiting, res.Phase)
	assert.Equal(t, MsgNoPerson, res.Message)
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, PhaseWaiting, m.Phase())

	_, ok := m.Baseline()
	assert.False(t, ok)

	// The next person gets a new session and a fresh calibration.
	res = m.Advance(Valid(good))
	assert.Equal(t, PhaseCalibrating, res.Phase)
	assert.Equal(t, "session-2", res.SessionID)
}

func TestMachine_Reset(t *testing.T) {
	m := calibrated(t, DefaultConfig())
	m.Reset()

	if diff := cmp.Diff(Snapshot{Phase: PhaseWaiting}, m.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_Snapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationFrames = 2
	m := calibrated(t, cfg)
	m.Advance(NoPerson())

	want := Snapshot{
		Phase:     PhaseMonitoring,
		SessionID: "session-1",
		Baseline:  &Baseline{NeckRatio: 0.5, TorsoY: 0.3},
		Samples:   2,
		Absent:    1,
	}
	if diff := cmp.Diff(want, m.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_EndToEnd(t *testing.T) {
	m := NewMachine(DefaultConfig())

	m.Advance(Valid(good))
	for i := 0; i < 60; i++ {
		m.Advance(Valid(Metrics{ShoulderWidth: 0.2, NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.5}))
	}

	b, ok := m.Baseline()
	require.True(t, ok)
	assert.InDelta(t, 0.5, b.NeckRatio, 1e-9)
	assert.InDelta(t, 0.3, b.TorsoY, 1e-9)

	res := m.Advance(Valid(Metrics{NeckRatio: 0.5, TorsoY: 0.3, CentroidX: 0.5, OutOfBounds: false}))
	assert.False(t, res.Slouching)
	assert.Equal(t, MsgCorrect, res.Message)
	assert.NotEmpty(t, res.SessionID)
}

func TestMachine_EndToEndFromSamples(t *testing.T) {
	m := NewMachine(DefaultConfig())
	margin := DefaultEdgeMargin

	for i := 0; i < 61; i++ {
		m.Advance(FromSample(&upright, margin))
	}
	require.Equal(t, PhaseMonitoring, m.Phase())

	assert.Equal(t, MsgCorrect, m.Advance(FromSample(&upright, margin)).Message)

	hunched := upright
	hunched.Nose = pt(0.5, 0.23) // neck ratio 0.35
	assert.Equal(t, MsgHunching, m.Advance(FromSample(&hunched, margin)).Message)

	slumped := upright
	slumped.Nose = pt(0.5, 0.25)
	slumped.LeftShoulder = pt(0.6, 0.35)
	slumped.RightShoulder = pt(0.4, 0.35) // torso 0.35 > 0.33
	assert.Equal(t, MsgSlumping, m.Advance(FromSample(&slumped, margin)).Message)

	assert.Equal(t, MsgNoPerson, m.Advance(FromSample(nil, margin)).Message)
}

func TestNewMachine_FallsBackOnZeroFrames(t *testing.T) {
	m := NewMachine(Config{})
	assert.Equal(t, DefaultCalibrationFrames, m.Config().CalibrationFrames)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero frames", func(c *Config) { c.CalibrationFrames = 0 }},
		{"neck factor above one", func(c *Config) { c.NeckRatioFactor = 1.2 }},
		{"torso factor below one", func(c *Config) { c.TorsoYFactor = 0.9 }},
		{"zero tolerance", func(c *Config) { c.CentroidTolerance = 0 }},
		{"huge margin", func(c *Config) { c.EdgeMargin = 0.5 }},
		{"negative absence limit", func(c *Config) { c.AbsenceLimit = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 60, cfg.CalibrationFrames)
	assert.Equal(t, 0.80, cfg.NeckRatioFactor)
	assert.Equal(t, 1.10, cfg.TorsoYFactor)
	assert.Equal(t, 0.25, cfg.CentroidTolerance)
	assert.Equal(t, 0.01, cfg.EdgeMargin)
	assert.Zero(t, cfg.AbsenceLimit)
}

func TestPhase_MarshalText(t *testing.T) {
	for p, want := range map[Phase]string{
		PhaseWaiting:     "waiting_for_person",
		PhaseCalibrating: "calibrating",
		PhaseMonitoring:  "monitoring",
		Phase(9):         "phase(9)",
	} {
		text, err := p.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(text))
	}
}
