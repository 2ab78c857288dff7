package i2cbus

import (
	"errors"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

type fakeConn struct {
	speedErr error
	speeds   []physic.Frequency
	delay    time.Duration
	reply    []byte
	count    int // reported count override, 0 means honest
	txErr    error
	addrs    []uint16
	closed   bool
}

func (c *fakeConn) Tx(addr uint16, w, r []byte) (int, error) {
	time.Sleep(c.delay)
	c.addrs = append(c.addrs, addr)
	if c.txErr != nil {
		return -1, c.txErr
	}
	copy(r, c.reply)
	if c.count != 0 {
		return c.count, nil
	}
	return len(w) + len(r), nil
}

func (c *fakeConn) SetSpeed(f physic.Frequency) error {
	c.speeds = append(c.speeds, f)
	return c.speedErr
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestOpenFailed(t *testing.T) {
	backend := func(string) (Conn, error) { return nil, errors.New("no such bus") }
	_, err := Open(backend, "/dev/i2c-9")
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenDevfsMissingNode(t *testing.T) {
	_, err := Open(Devfs, filepath.Join(t.TempDir(), "i2c-7"))
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestBackendByName(t *testing.T) {
	for _, name := range []string{"", "periph", "PERIPH", "devfs"} {
		b, err := BackendByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, b)
	}
	_, err := BackendByName("spidev")
	assert.Error(t, err)
}

func TestConfigure(t *testing.T) {
	conn := &fakeConn{}
	m := NewMaster(conn, "fake")

	require.NoError(t, m.Configure(Config{Speed: SpeedStandard, Timeout: 100 * time.Millisecond, DefaultAddress: 0x39}))
	assert.Equal(t, []physic.Frequency{SpeedStandard}, conn.speeds)
	assert.Equal(t, SpeedStandard, m.Speed())
	assert.Equal(t, 100*time.Millisecond, m.Timeout())
	addr, ok := m.DefaultTargetAddress()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x39), addr)
}

func TestConfigureStopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		name    string
		conn    *fakeConn
		cfg     Config
		wantErr error
	}{
		{
			name:    "speed rejected by bus",
			conn:    &fakeConn{speedErr: errors.New("einval")},
			cfg:     Config{Speed: SpeedStandard, Timeout: time.Second, DefaultAddress: 0x39},
			wantErr: ErrBusSpeedRejected,
		},
		{
			name:    "unsupported speed",
			conn:    &fakeConn{},
			cfg:     Config{Speed: 10 * physic.KiloHertz, Timeout: time.Second, DefaultAddress: 0x39},
			wantErr: ErrBusSpeedRejected,
		},
		{
			name:    "zero timeout",
			conn:    &fakeConn{},
			cfg:     Config{Speed: SpeedStandard, DefaultAddress: 0x39},
			wantErr: ErrTimeoutRejected,
		},
		{
			name:    "ten bit address",
			conn:    &fakeConn{},
			cfg:     Config{Speed: SpeedStandard, Timeout: time.Second, DefaultAddress: 0x139},
			wantErr: ErrDefaultAddressRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMaster(tt.conn, "fake")
			err := m.Configure(tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			_, ok := m.DefaultTargetAddress()
			assert.False(t, ok)
		})
	}

	// A rejected speed leaves the timeout untouched.
	m := NewMaster(&fakeConn{speedErr: errors.New("einval")}, "fake")
	require.Error(t, m.Configure(Config{Speed: SpeedStandard, Timeout: time.Second, DefaultAddress: 0x39}))
	assert.Equal(t, DefaultTimeout, m.Timeout())
}

func TestWriteThenReadCounts(t *testing.T) {
	conn := &fakeConn{reply: []byte{0x34, 0x12}}
	m := NewMaster(conn, "fake")

	buf := make([]byte, 2)
	n, err := m.WriteThenRead(0x39, []byte{0xEC}, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x34, 0x12}, buf)

	n, err = m.Write(0x39, []byte{0xE0, 0x03})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestShortTransferPassesThrough(t *testing.T) {
	conn := &fakeConn{count: 1}
	m := NewMaster(conn, "fake")

	n, err := m.Write(0x39, []byte{0xE0, 0x03})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxError(t *testing.T) {
	conn := &fakeConn{txErr: errors.New("remote i/o error")}
	m := NewMaster(conn, "fake")

	n, err := m.Write(0x39, []byte{0xE0, 0x03})
	assert.Equal(t, -1, n)
	assert.ErrorIs(t, err, conn.txErr)
}

func TestTimeout(t *testing.T) {
	conn := &fakeConn{delay: 200 * time.Millisecond, reply: []byte{0xFF}}
	m := NewMaster(conn, "fake")
	require.NoError(t, m.SetTimeout(20*time.Millisecond))

	buf := make([]byte, 1)
	start := time.Now()
	n, err := m.WriteThenRead(0x39, []byte{0xEA}, buf)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, -1, n)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, byte(0), buf[0])
}

func TestTransferUsesDefaultAddress(t *testing.T) {
	conn := &fakeConn{reply: []byte{0x50}}
	m := NewMaster(conn, "fake")

	_, err := m.Transfer([]byte{0xEA}, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNoDefaultAddress)

	require.NoError(t, m.SetDefaultTargetAddress(0x39))
	n, err := m.Transfer([]byte{0xEA}, make([]byte, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint16{0x39}, conn.addrs)
}

func TestClose(t *testing.T) {
	conn := &fakeConn{}
	m := NewMaster(conn, "fake")
	require.NoError(t, m.Close())
	assert.True(t, conn.closed)
	require.NoError(t, m.Close())

	n, err := m.Write(0x39, []byte{0x00})
	assert.Equal(t, -1, n)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.SetBusSpeed(SpeedStandard), ErrBusSpeedRejected)
}

// stuckConn never finishes a transaction until release is closed.
type stuckConn struct {
	release chan struct{}
	calls   atomic.Int32
	closed  atomic.Bool
}

func (c *stuckConn) Tx(addr uint16, w, r []byte) (int, error) {
	c.calls.Add(1)
	<-c.release
	return -1, errors.New("bus reset")
}

func (c *stuckConn) SetSpeed(physic.Frequency) error { return nil }

func (c *stuckConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestStuckBusDoesNotPileUpOrBlockClose(t *testing.T) {
	conn := &stuckConn{release: make(chan struct{})}
	defer close(conn.release)
	m := NewMaster(conn, "fake")
	require.NoError(t, m.SetTimeout(20*time.Millisecond))

	n, err := m.Write(0x39, []byte{0xE0, 0x03})
	assert.Equal(t, -1, n)
	assert.ErrorIs(t, err, ErrTimeout)

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		n, err := m.WriteThenRead(0x39, []byte{0xEC}, make([]byte, 2))
		assert.Equal(t, -1, n)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, ErrBusy)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+1)
	assert.Equal(t, int32(1), conn.calls.Load(), "only the first transaction reached the bus")

	done := make(chan error, 1)
	go func() { done <- m.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the stuck transaction")
	}
	assert.True(t, conn.closed.Load())
}

func TestBusFreeAfterSlowTransactionCompletes(t *testing.T) {
	conn := &fakeConn{delay: 50 * time.Millisecond}
	m := NewMaster(conn, "fake")
	require.NoError(t, m.SetTimeout(10*time.Millisecond))

	_, err := m.Write(0x39, []byte{0xE0, 0x03})
	require.ErrorIs(t, err, ErrTimeout)

	assert.Eventually(t, func() bool {
		_, err := m.Write(0x39, []byte{0xE0, 0x03})
		return !errors.Is(err, ErrBusy)
	}, time.Second, 20*time.Millisecond)
}
