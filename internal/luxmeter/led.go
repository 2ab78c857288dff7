package luxmeter

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// LED is the status LED driven by the twin's StatusLED property.
type LED interface {
	Set(on bool) error
	On() bool
	Close() error
}

// GPIOLED drives an active-low LED on a GPIO pin.
type GPIOLED struct {
	pin gpio.PinOut
	on  bool
}

// OpenGPIOLED opens name as an output, initially off.
func OpenGPIOLED(name string) (*GPIOLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("could not find GPIO pin %q", name)
	}
	return newGPIOLED(pin)
}

func newGPIOLED(pin gpio.PinOut) (*GPIOLED, error) {
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("could not open LED %s: %w", pin, err)
	}
	return &GPIOLED{pin: pin}, nil
}

func (l *GPIOLED) Set(on bool) error {
	level := gpio.High
	if on {
		level = gpio.Low
	}
	if err := l.pin.Out(level); err != nil {
		return err
	}
	l.on = on
	return nil
}

func (l *GPIOLED) On() bool { return l.on }

// Close leaves the LED off.
func (l *GPIOLED) Close() error {
	return l.Set(false)
}

// NopLED remembers the requested state when no pin is configured.
type NopLED struct {
	on bool
}

func (l *NopLED) Set(on bool) error {
	l.on = on
	return nil
}

func (l *NopLED) On() bool     { return l.on }
func (l *NopLED) Close() error { return nil }
