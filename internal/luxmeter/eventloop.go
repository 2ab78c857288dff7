package luxmeter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/internal/telemetry"
)

// Ticker is the part of time.Ticker the loop uses.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time   { return t.t.C }
func (t timeTicker) Reset(d time.Duration) { t.t.Reset(d) }
func (t timeTicker) Stop()                 { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// EventLoop owns the core state. Everything except DesiredProperties runs on
// the goroutine that called Run.
type EventLoop struct {
	Poller       *Poller
	Telemetry    Telemetry
	LED          LED
	Store        *Store
	Status       *Status
	Backoff      *Backoff
	SensorPeriod time.Duration
	Log          logrus.FieldLogger

	desired   chan []byte
	newTicker func(time.Duration) Ticker
}

func NewEventLoop(poller *Poller, tele Telemetry, led LED, store *Store, status *Status, sensorPeriod time.Duration, log logrus.FieldLogger) *EventLoop {
	if sensorPeriod <= 0 {
		sensorPeriod = time.Second
	}
	if led == nil {
		led = &NopLED{}
	}
	return &EventLoop{
		Poller:       poller,
		Telemetry:    tele,
		LED:          led,
		Store:        store,
		Status:       status,
		Backoff:      NewBackoff(),
		SensorPeriod: sensorPeriod,
		Log:          log,
		desired:      make(chan []byte, 8),
		newTicker:    newTimeTicker,
	}
}

// DesiredProperties queues a twin patch for the loop. It is safe to call
// from any goroutine and drops the patch when the queue is full.
func (e *EventLoop) DesiredProperties(payload []byte) {
	select {
	case e.desired <- payload:
	default:
		e.Log.Warn("dropping desired properties update, queue full")
	}
}

// Run dispatches until ctx is cancelled or a timer channel fails, and
// returns the exit code for the process.
func (e *EventLoop) Run(ctx context.Context) ExitCode {
	sensor := e.newTicker(e.SensorPeriod)
	defer sensor.Stop()

	var teleC <-chan time.Time
	var teleTicker Ticker
	if e.Telemetry != nil {
		teleTicker = e.newTicker(e.Backoff.Period())
		defer teleTicker.Stop()
		teleC = teleTicker.C()
		e.publishTelemetry()
	}

	e.restoreLED(ctx)
	e.Log.WithField("sensor_period", e.SensorPeriod).Info("Main event loop started")

	for {
		select {
		case <-ctx.Done():
			e.Log.Info("Termination requested")
			return ExitCodeTermHandlerSigTerm
		case _, ok := <-sensor.C():
			if !ok {
				e.Log.Error("Sensor timer channel closed")
				return ExitCodeSensorTimerConsume
			}
			e.Poller.Poll(ctx)
		case _, ok := <-teleC:
			if !ok {
				e.Log.Error("Telemetry timer channel closed")
				return ExitCodeTelemetryTimerConsume
			}
			if d, changed := e.telemetryTick(ctx); changed {
				teleTicker.Reset(d)
			}
		case payload := <-e.desired:
			e.applyDesired(ctx, payload)
		}
	}
}

// telemetryTick reconnects when needed and returns the new timer period
// when it moved.
func (e *EventLoop) telemetryTick(ctx context.Context) (time.Duration, bool) {
	defer e.publishTelemetry()
	if e.Telemetry.IsConnected() {
		return 0, false
	}
	if err := e.Telemetry.Connect(ctx); err != nil {
		d := e.Backoff.Failure()
		e.Log.WithError(err).WithField("period", d).Warn("IoT hub connect failed")
		return d, true
	}
	if e.Backoff.Success() {
		d := e.Backoff.Period()
		e.Log.WithField("period", d).Info("IoT hub reconnected, telemetry period restored")
		return d, true
	}
	return 0, false
}

func (e *EventLoop) applyDesired(ctx context.Context, payload []byte) {
	on, ok, err := telemetry.DesiredBool(payload, telemetry.StatusLEDProperty)
	if err != nil {
		e.Log.WithError(err).Warn("invalid desired properties payload")
		return
	}
	if !ok {
		return
	}
	if !e.setLED(ctx, on) {
		return
	}
	if e.Telemetry != nil && e.Telemetry.IsConnected() {
		if err := e.Telemetry.ReportBoolState(telemetry.StatusLEDProperty, on); err != nil {
			e.Log.WithError(err).Warn("failed to report StatusLED state")
		}
	}
}

func (e *EventLoop) setLED(ctx context.Context, on bool) bool {
	if err := e.LED.Set(on); err != nil {
		e.Log.WithError(err).Error("failed to drive status LED")
		return false
	}
	e.Log.WithField("on", on).Info("Status LED updated")
	if e.Status != nil {
		e.Status.update(func(s *StatusSnapshot) { s.StatusLED = on })
	}
	if e.Store != nil {
		if err := e.Store.SaveTwinState(ctx, telemetry.StatusLEDProperty, on); err != nil {
			e.Log.WithError(err).Error("Failed to save twin state")
		}
	}
	return true
}

// restoreLED reapplies the last state the twin asked for.
func (e *EventLoop) restoreLED(ctx context.Context) {
	if e.Store == nil {
		return
	}
	on, ok, err := e.Store.TwinState(ctx, telemetry.StatusLEDProperty)
	if err != nil {
		e.Log.WithError(err).Warn("failed to load twin state")
		return
	}
	if ok && on != e.LED.On() {
		e.setLED(ctx, on)
	}
}

func (e *EventLoop) publishTelemetry() {
	if e.Status == nil {
		return
	}
	enabled := e.Telemetry != nil
	connected := enabled && e.Telemetry.IsConnected()
	period := e.Backoff.Period().String()
	e.Status.update(func(s *StatusSnapshot) {
		s.TelemetryEnabled = enabled
		s.TelemetryConnected = connected
		s.TelemetryPeriod = period
	})
}
