package posture

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-posture/pkg/landmark"
)

// Status messages.
const (
	MsgWaiting   = "Waiting for a person..."
	MsgNoPerson  = "No person"
	MsgOffCenter = "Please sit in the middle"
	MsgHunching  = "Do not hunch over!"
	MsgSlumping  = "Straighten your back!"
	MsgCorrect   = "Correct posture"
)

// Phase is the session lifecycle stage.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseCalibrating
	PhaseMonitoring
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting_for_person"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseMonitoring:
		return "monitoring"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Reason tells why a result carries its message.
type Reason string

const (
	ReasonWaiting     Reason = "waiting"
	ReasonCalibrating Reason = "calibrating"
	ReasonCalibrated  Reason = "calibrated"
	ReasonAbsent      Reason = "absent"
	ReasonOffCenter   Reason = "off_center"
	ReasonHunching    Reason = "hunching"
	ReasonSlumping    Reason = "slumping"
	ReasonCorrect     Reason = "correct"
)

type inputKind int

const (
	inputNoPerson inputKind = iota
	inputInvalid
	inputValid
)

// Input is one tick's worth of evidence: valid metrics, an invalid
// (degenerate) detection, or no person at all.
type Input struct {
	kind    inputKind
	metrics Metrics
}

// Valid wraps usable metrics.
func Valid(m Metrics) Input { return Input{kind: inputValid, metrics: m} }

// Invalid marks a detection too degenerate to measure.
func Invalid() Input { return Input{kind: inputInvalid} }

// NoPerson marks a tick without a detected person.
func NoPerson() Input { return Input{kind: inputNoPerson} }

// FromSample extracts metrics from an upstream sample. A nil sample is NoPerson.
func FromSample(s *landmark.Sample, margin float64) Input {
	if s == nil {
		return NoPerson()
	}
	m, ok := Extract(*s, margin)
	if !ok {
		return Invalid()
	}
	return Valid(m)
}

// Metrics returns the metrics when the input is valid.
func (in Input) Metrics() (Metrics, bool) {
	return in.metrics, in.kind == inputValid
}

// Baseline is the personal reference posture measured during calibration.
type Baseline struct {
	NeckRatio float64 `json:"neck_ratio"`
	TorsoY    float64 `json:"torso_y"`
}

// ComputeBaseline averages the calibration samples.
func ComputeBaseline(samples []Metrics) Baseline {
	neck := make([]float64, len(samples))
	torso := make([]float64, len(samples))
	for i, s := range samples {
		neck[i] = s.NeckRatio
		torso[i] = s.TorsoY
	}
	return Baseline{
		NeckRatio: stat.Mean(neck, nil),
		TorsoY:    stat.Mean(torso, nil),
	}
}

// Result is the outward-facing classification for one tick.
type Result struct {
	Slouching bool   `json:"is_slouching"`
	Message   string `json:"message"`
	Phase     Phase  `json:"phase"`    // phase after this tick
	Progress  int    `json:"progress"` // calibration percent, 100 once monitoring
	Reason    Reason `json:"reason"`
	SessionID string `json:"session_id,omitempty"`
}

// Classify applies the posture rules in priority order. Framing problems win
// over posture problems because posture cannot be judged off-center.
func Classify(m Metrics, b Baseline, cfg Config) (bool, string, Reason) {
	switch {
	case m.OutOfBounds || math.Abs(m.CentroidX-0.5) > cfg.CentroidTolerance:
		return true, MsgOffCenter, ReasonOffCenter
	case m.NeckRatio < b.NeckRatio*cfg.NeckRatioFactor:
		return true, MsgHunching, ReasonHunching
	case m.TorsoY > b.TorsoY*cfg.TorsoYFactor:
		return true, MsgSlumping, ReasonSlumping
	default:
		return false, MsgCorrect, ReasonCorrect
	}
}

// state is one of waiting, calibrating or monitoring.
type state interface {
	phase() Phase
}

type waiting struct{}

type calibrating struct {
	samples []Metrics
}

type monitoring struct {
	baseline Baseline
	absent   int // consecutive ticks without a person
}

func (waiting) phase() Phase      { return PhaseWaiting }
func (*calibrating) phase() Phase { return PhaseCalibrating }
func (*monitoring) phase() Phase  { return PhaseMonitoring }

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	Phase     Phase     `json:"phase"`
	SessionID string    `json:"session_id,omitempty"`
	Baseline  *Baseline `json:"baseline,omitempty"`
	Samples   int       `json:"samples"`
	Absent    int       `json:"absent"`
}

// Machine is the posture session state machine. It is not safe for
// concurrent use; the sampling loop owns it.
type Machine struct {
	config  Config
	state   state
	session string
	newID   func() string
}

// NewMachine creates a machine waiting for a person. A non-positive
// CalibrationFrames falls back to the default.
func NewMachine(cfg Config) *Machine {
	if cfg.CalibrationFrames < 1 {
		cfg.CalibrationFrames = DefaultCalibrationFrames
	}
	return &Machine{
		config: cfg,
		state:  waiting{},
		newID:  uuid.NewString,
	}
}

// Config returns the thresholds in use.
func (m *Machine) Config() Config {
	return m.config
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.state.phase()
}

// Baseline returns the baseline while monitoring.
func (m *Machine) Baseline() (Baseline, bool) {
	if s, ok := m.state.(*monitoring); ok {
		return s.baseline, true
	}
	return Baseline{}, false
}

// Snapshot describes the current session.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{Phase: m.state.phase(), SessionID: m.session}
	switch s := m.state.(type) {
	case *calibrating:
		snap.Samples = len(s.samples)
	case *monitoring:
		b := s.baseline
		snap.Baseline = &b
		snap.Samples = m.config.CalibrationFrames
		snap.Absent = s.absent
	}
	return snap
}

// Reset discards the session and waits for a new person.
func (m *Machine) Reset() {
	m.state = waiting{}
	m.session = ""
}

// Advance feeds one tick of input through the state machine.
func (m *Machine) Advance(in Input) Result {
	metrics, valid := in.Metrics()

	switch s := m.state.(type) {
	case waiting:
		res := Result{Message: MsgWaiting, Phase: PhaseWaiting, Reason: ReasonWaiting}
		if valid {
			m.session = m.newID()
			m.state = &calibrating{samples: make([]Metrics, 0, m.config.CalibrationFrames)}
			res.Phase = PhaseCalibrating
			res.SessionID = m.session
		}
		return res

	case *calibrating:
		if valid {
			s.samples = append(s.samples, metrics)
		}
		progress := len(s.samples) * 100 / m.config.CalibrationFrames
		res := Result{
			Message:   fmt.Sprintf("Sit straight! Calibration %d%%", progress),
			Phase:     PhaseCalibrating,
			Progress:  progress,
			Reason:    ReasonCalibrating,
			SessionID: m.session,
		}
		if len(s.samples) >= m.config.CalibrationFrames {
			m.state = &monitoring{baseline: ComputeBaseline(s.samples)}
			res.Phase = PhaseMonitoring
			res.Reason = ReasonCalibrated
		}
		return res

	case *monitoring:
		res := Result{Phase: PhaseMonitoring, Progress: 100, SessionID: m.session}
		if !valid {
			s.absent++
			res.Message, res.Reason = MsgNoPerson, ReasonAbsent
			if m.config.AbsenceLimit > 0 && s.absent >= m.config.AbsenceLimit {
				m.Reset()
				res.Phase = PhaseWaiting
			}
			return res
		}
		s.absent = 0
		res.Slouching, res.Message, res.Reason = Classify(metrics, s.baseline, m.config)
		return res
	}

	// Unreachable: every state is handled above.
	m.Reset()
	return Result{Message: MsgWaiting, Phase: PhaseWaiting, Reason: ReasonWaiting}
}
