package i2cbus

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

type periphConn struct {
	bus i2c.BusCloser
}

// Periph opens a bus through the periph.io host drivers. An empty selector
// picks the first registered bus, usually /dev/i2c-1.
func Periph(selector string) (Conn, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(selector)
	if err != nil {
		return nil, err
	}
	return &periphConn{bus: bus}, nil
}

func (c *periphConn) Tx(addr uint16, w, r []byte) (int, error) {
	if err := c.bus.Tx(addr, w, r); err != nil {
		return -1, err
	}
	return len(w) + len(r), nil
}

func (c *periphConn) SetSpeed(f physic.Frequency) error {
	return c.bus.SetSpeed(f)
}

func (c *periphConn) Close() error {
	return c.bus.Close()
}
