package luxmeter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopFixture struct {
	loop   *EventLoop
	conn   *sensorConn
	tele   *fakeTelemetry
	led    *fakeLED
	store  *Store
	sensor *fakeTicker
	teleT  *fakeTicker
}

func newLoopFixture(t *testing.T, tele *fakeTelemetry) *loopFixture {
	t.Helper()
	f := &loopFixture{
		conn:   newSensorConn(0x50, 1000, 200),
		tele:   tele,
		led:    &fakeLED{},
		store:  openTestStore(t),
		sensor: newFakeTicker(),
		teleT:  newFakeTicker(),
	}
	session := openTestSession(t, f.conn)
	status := NewStatus(session)
	var tel Telemetry
	if tele != nil {
		tel = tele
	}
	poller := NewPoller(session, f.store, tel, status, testLogger())
	f.loop = NewEventLoop(poller, tel, f.led, f.store, status, time.Second, testLogger())

	tickers := []*fakeTicker{f.sensor, f.teleT}
	f.loop.newTicker = func(time.Duration) Ticker {
		next := tickers[0]
		tickers = tickers[1:]
		return next
	}
	return f
}

// start runs the loop and returns a function that cancels it and waits for
// the exit code.
func (f *loopFixture) start(t *testing.T) (stop func() ExitCode, done <-chan ExitCode) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan ExitCode, 1)
	go func() { ch <- f.loop.Run(ctx) }()
	return func() ExitCode {
		cancel()
		select {
		case code := <-ch:
			return code
		case <-time.After(5 * time.Second):
			t.Fatal("event loop did not stop")
			return -1
		}
	}, ch
}

func TestEventLoopSigTerm(t *testing.T) {
	f := newLoopFixture(t, nil)
	stop, _ := f.start(t)
	f.sensor.tick()
	f.sensor.tick()
	assert.Equal(t, ExitCodeTermHandlerSigTerm, stop())

	latest, err := f.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Iteration)
}

func TestEventLoopSensorTimerClosed(t *testing.T) {
	f := newLoopFixture(t, nil)
	_, done := f.start(t)
	close(f.sensor.c)
	select {
	case code := <-done:
		assert.Equal(t, ExitCodeSensorTimerConsume, code)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not exit")
	}
}

func TestEventLoopTelemetryTimerClosed(t *testing.T) {
	f := newLoopFixture(t, &fakeTelemetry{})
	_, done := f.start(t)
	close(f.teleT.c)
	select {
	case code := <-done:
		assert.Equal(t, ExitCodeTelemetryTimerConsume, code)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not exit")
	}
}

func TestEventLoopTelemetryBackoff(t *testing.T) {
	refused := errors.New("connection refused")
	tele := &fakeTelemetry{connectErrs: []error{refused, refused, refused, nil}}
	f := newLoopFixture(t, tele)
	stop, _ := f.start(t)

	for i := 0; i < 4; i++ {
		f.teleT.tick()
	}
	// Connected now: further ticks neither reconnect nor re-arm.
	f.teleT.tick()
	f.sensor.tick()
	stop()

	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 5 * time.Second}, f.teleT.Resets())
	assert.Equal(t, 4, tele.connects)
	assert.Equal(t, TelemetryDefaultPeriod, f.loop.Backoff.Period())
	require.Len(t, tele.sent, 1)
	assert.Equal(t, "lux", tele.sent[0].key)

	snap := f.loop.Status.Snapshot()
	assert.True(t, snap.TelemetryEnabled)
	assert.True(t, snap.TelemetryConnected)
}

func TestEventLoopFirstConnectKeepsPeriod(t *testing.T) {
	tele := &fakeTelemetry{}
	f := newLoopFixture(t, tele)
	stop, _ := f.start(t)
	f.teleT.tick()
	f.sensor.tick()
	stop()

	assert.Empty(t, f.teleT.Resets())
	assert.Equal(t, 1, tele.connects)
}

func TestEventLoopDesiredProperties(t *testing.T) {
	tele := &fakeTelemetry{connected: true}
	f := newLoopFixture(t, tele)
	stop, _ := f.start(t)

	f.loop.DesiredProperties([]byte(`{"StatusLED":{"value":true},"$version":3}`))
	assert.Eventually(t, f.led.On, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, map[string]bool{"StatusLED": true}, tele.reported)
	v, ok, err := f.store.TwinState(context.Background(), "StatusLED")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, v)
	assert.True(t, f.loop.Status.Snapshot().StatusLED)
}

func TestApplyDesired(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		initial bool
		ledErr  error
		want    bool
		report  bool
	}{
		{name: "patch on", payload: `{"StatusLED":{"value":true}}`, want: true, report: true},
		{name: "full twin off", payload: `{"desired":{"StatusLED":{"value":false}}}`, initial: true, want: false, report: true},
		{name: "missing value", payload: `{"StatusLED":{}}`, initial: true, want: true},
		{name: "other property", payload: `{"Fan":{"value":true}}`, want: false},
		{name: "not json", payload: `StatusLED=1`, want: false},
		{name: "led fails", payload: `{"StatusLED":{"value":true}}`, ledErr: errors.New("gpio busy"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tele := &fakeTelemetry{connected: true}
			f := newLoopFixture(t, tele)
			f.led.on = tt.initial
			f.led.err = tt.ledErr

			f.loop.applyDesired(context.Background(), []byte(tt.payload))
			assert.Equal(t, tt.want, f.led.On())
			_, reported := tele.reported["StatusLED"]
			assert.Equal(t, tt.report, reported)
		})
	}
}

func TestEventLoopRestoresLED(t *testing.T) {
	f := newLoopFixture(t, nil)
	require.NoError(t, f.store.SaveTwinState(context.Background(), "StatusLED", true))

	stop, _ := f.start(t)
	f.sensor.tick()
	stop()
	assert.True(t, f.led.On())
}

func TestDesiredPropertiesDropsWhenFull(t *testing.T) {
	f := newLoopFixture(t, nil)
	for i := 0; i < cap(f.loop.desired)+3; i++ {
		f.loop.DesiredProperties([]byte(`{}`))
	}
	assert.Len(t, f.loop.desired, cap(f.loop.desired))
}
