package luxmeter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/tsl2561"
	"periph.io/x/conn/v3/physic"
)

var ErrTimingFailed = errors.New("timing configuration failed")

type SessionConfig struct {
	Backend i2cbus.Backend
	Bus     string
	Address uint16
	Speed   physic.Frequency
	Timeout time.Duration

	SetTiming   bool
	Gain        byte
	Integration byte
}

// Session owns the bus master and the sensor for the life of the process.
type Session struct {
	ID     string
	Master *i2cbus.Master
	Sensor *tsl2561.TSL2561
	log    logrus.FieldLogger

	poweredUp bool
}

// Open claims and configures the bus, then powers up the sensor and checks
// its identity. Any failure closes what was opened; map it with ExitCodeFor.
func Open(cfg SessionConfig, log logrus.FieldLogger) (*Session, error) {
	master, err := i2cbus.Open(cfg.Backend, cfg.Bus)
	if err != nil {
		return nil, err
	}
	return openOn(master, cfg, log)
}

func openOn(master *i2cbus.Master, cfg SessionConfig, log logrus.FieldLogger) (*Session, error) {
	master.Log = log
	if cfg.Address == 0 {
		cfg.Address = tsl2561.TSL2561_ADDR
	}
	if cfg.Speed == 0 {
		cfg.Speed = i2cbus.SpeedStandard
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = i2cbus.DefaultTimeout
	}

	s := &Session{
		ID:     uuid.New().String(),
		Master: master,
		Sensor: tsl2561.NewTSL2561(master, cfg.Address),
		log:    log,
	}
	if err := s.init(cfg); err != nil {
		if s.poweredUp {
			s.Sensor.PowerDown()
		}
		master.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) init(cfg SessionConfig) error {
	if err := s.Master.Configure(i2cbus.Config{
		Speed:          cfg.Speed,
		Timeout:        cfg.Timeout,
		DefaultAddress: cfg.Address,
	}); err != nil {
		return err
	}
	if err := s.Sensor.PowerUp(); err != nil {
		return err
	}
	s.poweredUp = true
	if err := s.Sensor.VerifyIdentity(); err != nil {
		return err
	}
	if cfg.SetTiming {
		if err := s.Sensor.SetTiming(cfg.Gain, cfg.Integration); err != nil {
			return fmt.Errorf("%w: %w", ErrTimingFailed, err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"part":       s.Sensor.Part,
		"revision":   s.Sensor.Revision,
	}).Info("TSL2561 sensor present")
	return nil
}

// Close powers the sensor down and releases the bus.
func (s *Session) Close() error {
	var errs []error
	if s.Sensor.Present {
		if err := s.Sensor.PowerDown(); err != nil {
			errs = append(errs, fmt.Errorf("power down: %w", err))
		}
	}
	s.log.Info("Closing I2C master")
	if err := s.Master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close i2c: %w", err))
	}
	return errors.Join(errs...)
}
