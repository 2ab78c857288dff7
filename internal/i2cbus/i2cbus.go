// Package i2cbus is a bus master that reports transfer sizes for every
// transaction and bounds each one with a timeout.
package i2cbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"
)

const (
	SpeedStandard physic.Frequency = 100 * physic.KiloHertz
	SpeedFast     physic.Frequency = 400 * physic.KiloHertz
	SpeedFastPlus physic.Frequency = 1 * physic.MegaHertz

	DefaultTimeout = 100 * time.Millisecond
	maxAddress     = 0x7F
)

var (
	ErrOpenFailed             = errors.New("i2c open failed")
	ErrBusSpeedRejected       = errors.New("i2c bus speed rejected")
	ErrTimeoutRejected        = errors.New("i2c timeout rejected")
	ErrDefaultAddressRejected = errors.New("i2c default target address rejected")
	ErrNoDefaultAddress       = errors.New("i2c default target address not set")
	ErrTimeout                = errors.New("i2c transaction timed out")
	ErrClosed                 = errors.New("i2c master closed")
	ErrBusy                   = errors.New("i2c bus busy with an earlier transaction")
)

// Conn is a raw bus connection. Tx reports the bytes moved, counting both the
// write and read legs, or -1 when the transaction failed.
type Conn interface {
	Tx(addr uint16, w, r []byte) (int, error)
	SetSpeed(f physic.Frequency) error
	Close() error
}

// Backend opens a Conn for a bus selector such as "" or "/dev/i2c-1".
type Backend func(selector string) (Conn, error)

// BackendByName resolves a configured backend name.
func BackendByName(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "periph":
		return Periph, nil
	case "devfs":
		return Devfs, nil
	default:
		return nil, fmt.Errorf("unknown i2c backend %q (allowed: periph, devfs)", name)
	}
}

// Config holds the settings applied by Configure, in order.
type Config struct {
	Speed          physic.Frequency
	Timeout        time.Duration
	DefaultAddress uint16
}

type Master struct {
	Log logrus.FieldLogger

	mu          sync.Mutex
	conn        Conn
	selector    string
	speed       physic.Frequency
	timeout     time.Duration
	defaultAddr uint16
	hasDefault  bool

	// Holds a token for the lifetime of a Tx, which may outlive a timed out
	// caller. At most one Tx is ever outstanding.
	busy chan struct{}
}

// Open claims the bus named by selector.
func Open(backend Backend, selector string) (*Master, error) {
	conn, err := backend(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrOpenFailed, selector, err)
	}
	return NewMaster(conn, selector), nil
}

// NewMaster wraps an already open connection.
func NewMaster(conn Conn, selector string) *Master {
	return &Master{
		Log:      logrus.StandardLogger(),
		conn:     conn,
		selector: selector,
		timeout:  DefaultTimeout,
		busy:     make(chan struct{}, 1),
	}
}

// Configure applies speed, timeout and default address, stopping at the
// first rejected setting.
func (m *Master) Configure(cfg Config) error {
	if err := m.SetBusSpeed(cfg.Speed); err != nil {
		return err
	}
	if err := m.SetTimeout(cfg.Timeout); err != nil {
		return err
	}
	if err := m.SetDefaultTargetAddress(cfg.DefaultAddress); err != nil {
		return err
	}
	m.Log.WithFields(logrus.Fields{
		"bus":     m.selector,
		"speed":   m.speed.String(),
		"timeout": m.timeout.String(),
		"address": fmt.Sprintf("0x%02x", m.defaultAddr),
	}).Info("I2C master configured")
	return nil
}

func (m *Master) SetBusSpeed(f physic.Frequency) error {
	conn := m.getConn()
	if conn == nil {
		return fmt.Errorf("%w: %w", ErrBusSpeedRejected, ErrClosed)
	}
	switch f {
	case SpeedStandard, SpeedFast, SpeedFastPlus:
	default:
		return fmt.Errorf("%w: unsupported speed %s", ErrBusSpeedRejected, f)
	}
	if err := conn.SetSpeed(f); err != nil {
		return fmt.Errorf("%w: %w", ErrBusSpeedRejected, err)
	}
	m.speed = f
	return nil
}

func (m *Master) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrTimeoutRejected, d)
	}
	m.timeout = d
	return nil
}

// SetDefaultTargetAddress sets the 7-bit address used by Transfer.
func (m *Master) SetDefaultTargetAddress(addr uint16) error {
	if addr == 0 || addr > maxAddress {
		return fmt.Errorf("%w: 0x%x is not a 7-bit address", ErrDefaultAddressRejected, addr)
	}
	m.defaultAddr = addr
	m.hasDefault = true
	return nil
}

func (m *Master) Timeout() time.Duration  { return m.timeout }
func (m *Master) Speed() physic.Frequency { return m.speed }

// DefaultTargetAddress returns the address set by SetDefaultTargetAddress.
func (m *Master) DefaultTargetAddress() (uint16, bool) {
	return m.defaultAddr, m.hasDefault
}

// Write sends w to addr.
func (m *Master) Write(addr uint16, w []byte) (int, error) {
	return m.tx(addr, w, nil)
}

// WriteThenRead sends w and reads len(r) bytes back in one transaction.
func (m *Master) WriteThenRead(addr uint16, w, r []byte) (int, error) {
	return m.tx(addr, w, r)
}

// Transfer is WriteThenRead against the default target address.
func (m *Master) Transfer(w, r []byte) (int, error) {
	if !m.hasDefault {
		return -1, ErrNoDefaultAddress
	}
	return m.tx(m.defaultAddr, w, r)
}

// Close releases the bus. It waits up to one timeout for an outstanding
// transaction and closes the connection regardless.
func (m *Master) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case m.busy <- struct{}{}:
		defer func() { <-m.busy }()
	case <-timer.C:
		m.Log.WithField("bus", m.selector).Warn("Closing I2C bus with a transaction still outstanding")
	}
	return conn.Close()
}

func (m *Master) getConn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

type txResult struct {
	n   int
	err error
}

func (m *Master) tx(addr uint16, w, r []byte) (int, error) {
	conn := m.getConn()
	if conn == nil {
		return -1, ErrClosed
	}
	select {
	case m.busy <- struct{}{}:
	default:
		return -1, fmt.Errorf("%w: %w", ErrTimeout, ErrBusy)
	}

	// Read into a private buffer so a transaction that finishes after its
	// deadline cannot touch the caller's memory.
	var rb []byte
	if len(r) > 0 {
		rb = make([]byte, len(r))
	}
	done := make(chan txResult, 1)
	go func() {
		n, err := conn.Tx(addr, w, rb)
		<-m.busy
		done <- txResult{n: n, err: err}
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			return -1, res.err
		}
		copy(r, rb)
		return res.n, nil
	case <-timer.C:
		m.Log.WithField("address", fmt.Sprintf("0x%02x", addr)).Warnf("I2C transaction exceeded %v", m.timeout)
		return -1, fmt.Errorf("%w after %v", ErrTimeout, m.timeout)
	}
}
