package luxmeter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/tsl2561"
)

type State int

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Telemetry is the cloud collaborator. It owns connectivity; the core only
// asks it to connect from the telemetry timer and forwards readings.
type Telemetry interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	SendTelemetry(key, value string) error
	ReportBoolState(name string, value bool) error
}

// FormatLux renders a lux value for telemetry.
func FormatLux(lux float32) string {
	return fmt.Sprintf("%.2f", lux)
}

// Poller runs one read-convert-report cycle per tick.
type Poller struct {
	Session   *Session
	Store     *Store
	Telemetry Telemetry
	Status    *Status
	Log       logrus.FieldLogger

	state     State
	iteration int
	now       func() time.Time
}

func NewPoller(session *Session, store *Store, tele Telemetry, status *Status, log logrus.FieldLogger) *Poller {
	return &Poller{
		Session:   session,
		Store:     store,
		Telemetry: tele,
		Status:    status,
		Log:       log,
		now:       time.Now,
	}
}

func (p *Poller) State() State { return p.state }

// Poll reads both channels and reports the result. A channel 0 failure
// abandons the cycle. A channel 1 failure does not: the cycle carries on
// with whatever the read produced, flagged by Channel1OK.
func (p *Poller) Poll(ctx context.Context) (Reading, bool) {
	p.setState(StatePolling)
	defer p.setState(StateIdle)
	p.iteration++
	log := p.Log.WithField("iteration", p.iteration)

	sensor := p.Session.Sensor
	data0, err := sensor.ReadRegisterWord(tsl2561.RegData0Low)
	if err != nil {
		log.WithError(err).Errorf("ERROR reading ADC channel0 0x%02x", byte(tsl2561.RegData0Low))
		return Reading{}, false
	}
	channel1OK := true
	data1, err := sensor.ReadRegisterWord(tsl2561.RegData1Low)
	if err != nil {
		log.WithError(err).Errorf("ERROR reading ADC channel1 0x%02x", byte(tsl2561.RegData1Low))
		channel1OK = false
	}

	lux := tsl2561.Lux(data0, data1)
	reading := Reading{
		SessionID:    p.Session.ID,
		Iteration:    p.iteration,
		RawReading:   tsl2561.RawReading{Channel0: data0, Channel1: data1},
		Channel1OK:   channel1OK,
		Lux:          lux,
		FullSpectrum: tsl2561.GetNormalizedOutput(tsl2561.TSL2561_FULLSPECTRUM, data0, data1),
		Infrared:     tsl2561.GetNormalizedOutput(tsl2561.TSL2561_INFRARED, data0, data1),
		Visible:      tsl2561.GetNormalizedOutput(tsl2561.TSL2561_VISIBLE, data0, data1),
		Time:         p.now(),
	}
	log.WithFields(logrus.Fields{
		"data0": data0,
		"data1": data1,
		"lux":   lux,
	}).Infof("light reading: %6.2f lux", lux)

	if p.Store != nil {
		if err := p.Store.Record(ctx, reading); err != nil {
			log.WithError(err).Error("Failed to record reading")
		}
	}
	if p.Telemetry != nil && p.Telemetry.IsConnected() {
		if err := p.Telemetry.SendTelemetry("lux", FormatLux(lux)); err != nil {
			log.WithError(err).Warn("failed to hand over the message to the IoT hub")
		}
	}
	if p.Status != nil {
		p.Status.update(func(s *StatusSnapshot) {
			s.Iteration = p.iteration
			s.LastReading = &reading
		})
	}
	return reading, true
}

func (p *Poller) setState(s State) {
	p.state = s
	if p.Status != nil {
		p.Status.update(func(snap *StatusSnapshot) { snap.State = s.String() })
	}
}

// StatusSnapshot is what the HTTP surface sees of the core.
type StatusSnapshot struct {
	SessionID          string   `json:"sessionID"`
	Present            bool     `json:"present"`
	Part               byte     `json:"part"`
	Revision           byte     `json:"revision"`
	State              string   `json:"state"`
	Iteration          int      `json:"iteration"`
	LastReading        *Reading `json:"lastReading,omitempty"`
	TelemetryEnabled   bool     `json:"telemetryEnabled"`
	TelemetryConnected bool     `json:"telemetryConnected"`
	TelemetryPeriod    string   `json:"telemetryPeriod"`
	StatusLED          bool     `json:"statusLED"`
}

// Status is written by the event loop and read by HTTP handlers.
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

func NewStatus(session *Session) *Status {
	s := &Status{}
	s.snap.State = StateIdle.String()
	if session != nil {
		s.snap.SessionID = session.ID
		s.snap.Present = session.Sensor.Present
		s.snap.Part = session.Sensor.Part
		s.snap.Revision = session.Sensor.Revision
	}
	return s
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.LastReading != nil {
		r := *snap.LastReading
		snap.LastReading = &r
	}
	return snap
}

func (s *Status) update(fn func(*StatusSnapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}
