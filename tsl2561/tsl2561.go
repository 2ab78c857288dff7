package tsl2561

/*
 * tsl2561 - Package for interacting with TSL2561 lux sensors.
 *
 * Ref:
 * https://cdn-learn.adafruit.com/downloads/pdf/tsl2561.pdf
 * https://ams.com/documents/20143/36005/TSL2561_DS000110_3-00.pdf
 *
 */

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		l = logger
	}
}

var (
	ErrTransferLengthMismatch = errors.New("i2c transfer length mismatch")
	ErrPowerUpFailed          = errors.New("power up failed")
	ErrIdentityReadFailed     = errors.New("identity read failed")
	ErrIdentityMismatch       = errors.New("identity mismatch")
	ErrNotPresent             = errors.New("sensor presence not confirmed")
)

// Bus is the transport the codec drives. Both calls report the number of
// bytes moved on the wire, or a negative count when the transaction failed.
type Bus interface {
	Write(addr uint16, w []byte) (int, error)
	WriteThenRead(addr uint16, w, r []byte) (int, error)
}

// RawReading is one pair of ADC channel samples.
type RawReading struct {
	Channel0 uint16
	Channel1 uint16
}

type TSL2561 struct {
	Address  uint16
	Present  bool
	Part     byte
	Revision byte
	Gain     byte
	Timing   byte
	bus      Bus
}

// NewTSL2561 binds a codec to bus at addr. No bus traffic happens until
// PowerUp is called.
func NewTSL2561(bus Bus, addr uint16) *TSL2561 {
	if addr == 0 {
		addr = TSL2561_ADDR
	}
	return &TSL2561{
		Address: addr,
		Timing:  TSL2561_INTEGRATIONTIME_402MS,
		bus:     bus,
	}
}

// Command builds the command byte that selects reg.
func Command(reg Register) byte {
	return TSL2561_CMD_PREFIX | (TSL2561_CMD_ADDR & byte(reg))
}

// WriteRegister writes a single data byte to reg.
func (tsl *TSL2561) WriteRegister(reg Register, value byte) error {
	cmd := []byte{Command(reg), value}
	n, err := tsl.bus.Write(tsl.Address, cmd)
	return checkTransferSize("Write "+reg.String(), len(cmd), n, err)
}

// ReadRegisterByte reads one byte from reg.
func (tsl *TSL2561) ReadRegisterByte(reg Register) (byte, error) {
	cmd := []byte{Command(reg)}
	buf := make([]byte, 1)
	n, err := tsl.bus.WriteThenRead(tsl.Address, cmd, buf)
	if err := checkTransferSize("WriteThenRead "+reg.String(), len(cmd)+len(buf), n, err); err != nil {
		return buf[0], err
	}
	return buf[0], nil
}

// ReadRegisterWord reads the little-endian word starting at lowReg. The
// device returns the adjacent high register in the same transaction.
// On failure the returned word is whatever landed in the read buffer.
func (tsl *TSL2561) ReadRegisterWord(lowReg Register) (uint16, error) {
	cmd := []byte{Command(lowReg)}
	buf := make([]byte, 2)
	n, err := tsl.bus.WriteThenRead(tsl.Address, cmd, buf)
	word := binary.LittleEndian.Uint16(buf)
	if err := checkTransferSize("WriteThenRead "+lowReg.String(), len(cmd)+len(buf), n, err); err != nil {
		return word, err
	}
	l.Debugf("Read %s: %v -> %d", lowReg, buf, word)
	return word, nil
}

// PowerUp switches the sensor on.
func (tsl *TSL2561) PowerUp() error {
	if err := tsl.WriteRegister(RegControl, TSL2561_CONTROL_POWERON); err != nil {
		l.Errorf("Writing CONTROL=0x%02x failed: %v", TSL2561_CONTROL_POWERON, err)
		return fmt.Errorf("%w: %w", ErrPowerUpFailed, err)
	}
	return nil
}

// PowerDown switches the sensor off and clears the presence flag.
func (tsl *TSL2561) PowerDown() error {
	tsl.Present = false
	return tsl.WriteRegister(RegControl, TSL2561_CONTROL_POWEROFF)
}

// VerifyIdentity performs the presence test against the ID register.
func (tsl *TSL2561) VerifyIdentity() error {
	id, err := tsl.ReadRegisterByte(RegID)
	if err != nil {
		l.Errorf("Reading ID=0x%02x failed: %v", byte(RegID), err)
		return fmt.Errorf("%w: %w", ErrIdentityReadFailed, err)
	}
	l.Infof("WHO_AM_I=0x%02x", id)
	if id&TSL2561_ID_PART != TSL2561_EXPECTED_ID {
		return fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrIdentityMismatch, id&TSL2561_ID_PART, TSL2561_EXPECTED_ID)
	}
	tsl.Part = (id & TSL2561_ID_PART) >> 4
	tsl.Revision = id & TSL2561_ID_REVISION
	tsl.Present = true
	return nil
}

// SetTiming writes gain and integration time to the TIMING register.
func (tsl *TSL2561) SetTiming(gain, timing byte) error {
	if !tsl.Present {
		return ErrNotPresent
	}
	if err := tsl.WriteRegister(RegTiming, gain|timing); err != nil {
		return err
	}
	tsl.Gain = gain
	tsl.Timing = timing
	l.Debugf("Set - Gain: %v, Integration Time: %v", GainToString(gain), IntegrationTimeToString(timing))
	return nil
}

// checkTransferSize turns a transfer count into an outcome. A negative count
// or an underlying error is a mismatch as much as a short transfer is.
func checkTransferSize(desc string, expected, actual int, err error) error {
	if err != nil || actual < 0 {
		l.Errorf("%s: %v", desc, err)
		if err == nil {
			err = fmt.Errorf("transferred %d bytes", actual)
		}
		return fmt.Errorf("%s: %w: %w", desc, ErrTransferLengthMismatch, err)
	}
	if actual != expected {
		l.Errorf("%s: transferred %d bytes; expected %d", desc, actual, expected)
		return fmt.Errorf("%s: %w: transferred %d bytes; expected %d", desc, ErrTransferLengthMismatch, actual, expected)
	}
	return nil
}
