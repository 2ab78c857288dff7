package luxmeter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/internal/tools"
	"periph.io/x/conn/v3/physic"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var errBus = errors.New("remote I/O error")

// sensorConn emulates a TSL2561 register file behind an i2cbus.Conn.
type sensorConn struct {
	mu        sync.Mutex
	regs      [16]byte
	writes    [][]byte
	failRead  map[byte]bool
	failWrite map[byte]bool
	closed    bool
}

func newSensorConn(id byte, ch0, ch1 uint16) *sensorConn {
	c := &sensorConn{failRead: map[byte]bool{}, failWrite: map[byte]bool{}}
	c.regs[0x0A] = id
	c.setChannels(ch0, ch1)
	return c
}

func (c *sensorConn) setChannels(ch0, ch1 uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[0x0C], c.regs[0x0D] = byte(ch0), byte(ch0>>8)
	c.regs[0x0E], c.regs[0x0F] = byte(ch1), byte(ch1>>8)
}

func (c *sensorConn) Tx(addr uint16, w, r []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), w...))
	reg := w[0] & 0x0F
	if len(r) == 0 {
		if c.failWrite[reg] {
			return -1, errBus
		}
		if len(w) > 1 {
			c.regs[reg] = w[1]
		}
		return len(w), nil
	}
	if c.failRead[reg] {
		return -1, errBus
	}
	for i := range r {
		r[i] = c.regs[(int(reg)+i)&0x0F]
	}
	return len(w) + len(r), nil
}

func (c *sensorConn) SetSpeed(physic.Frequency) error { return nil }

func (c *sensorConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *sensorConn) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func openTestSession(t *testing.T, conn *sensorConn) *Session {
	t.Helper()
	s, err := openOn(i2cbus.NewMaster(conn, "fake"), SessionConfig{}, testLogger())
	require.NoError(t, err)
	return s
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := tools.ConnectSqlite(filepath.Join(t.TempDir(), "luxmeter.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.db")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type sent struct {
	key, value string
}

type fakeTelemetry struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error // consumed one per Connect call
	connects    int
	sent        []sent
	reported    map[string]bool
}

func (f *fakeTelemetry) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTelemetry) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTelemetry) SendTelemetry(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{key, value})
	return nil
}

func (f *fakeTelemetry) ReportBoolState(name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reported == nil {
		f.reported = map[string]bool{}
	}
	f.reported[name] = value
	return nil
}

type fakeLED struct {
	mu  sync.Mutex
	on  bool
	err error
}

func (l *fakeLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.on = on
	return nil
}

func (l *fakeLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *fakeLED) Close() error { return nil }

type fakeTicker struct {
	c      chan time.Time
	mu     sync.Mutex
	resets []time.Duration
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time)}
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Reset(d time.Duration) {
	t.mu.Lock()
	t.resets = append(t.resets, d)
	t.mu.Unlock()
}

func (t *fakeTicker) Stop() {}

func (t *fakeTicker) tick() { t.c <- time.Now() }

func (t *fakeTicker) Resets() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.resets...)
}
