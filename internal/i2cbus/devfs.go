package i2cbus

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/io/i2c"
	"periph.io/x/conn/v3/physic"
)

// devfsConn talks to /dev/i2c-N through golang.org/x/exp/io/i2c, which binds
// one file descriptor per target address.
type devfsConn struct {
	path    string
	devices map[uint16]*i2c.Device
}

// Devfs opens a Linux i2c-dev character device. The kernel owns the bus
// clock, so only standard mode is accepted by SetSpeed.
func Devfs(selector string) (Conn, error) {
	if selector == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		selector = "/dev/i2c-1"
	}
	if _, err := os.Stat(selector); err != nil {
		return nil, err
	}
	return &devfsConn{path: selector, devices: map[uint16]*i2c.Device{}}, nil
}

func (c *devfsConn) device(addr uint16) (*i2c.Device, error) {
	if d, ok := c.devices[addr]; ok {
		return d, nil
	}
	d, err := i2c.Open(&i2c.Devfs{Dev: c.path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("Failed to open: %w", err)
	}
	c.devices[addr] = d
	return d, nil
}

func (c *devfsConn) Tx(addr uint16, w, r []byte) (int, error) {
	d, err := c.device(addr)
	if err != nil {
		return -1, err
	}
	switch {
	case len(r) == 0:
		err = d.Write(w)
	case len(w) == 0:
		err = d.Read(r)
	case len(w) == 1:
		err = d.ReadReg(w[0], r)
	default:
		if err = d.Write(w); err == nil {
			err = d.Read(r)
		}
	}
	if err != nil {
		return -1, err
	}
	return len(w) + len(r), nil
}

func (c *devfsConn) SetSpeed(f physic.Frequency) error {
	if f != SpeedStandard {
		return fmt.Errorf("%s: bus speed is fixed by the kernel driver", c.path)
	}
	return nil
}

func (c *devfsConn) Close() error {
	var errs []error
	for addr, d := range c.devices {
		errs = append(errs, d.Close())
		delete(c.devices, addr)
	}
	return errors.Join(errs...)
}
