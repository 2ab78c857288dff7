package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/tsl2561"
	"periph.io/x/conn/v3/physic"
)

type Config struct {
	LogLevel logrus.Level
	LogFile  string

	I2CBackend string
	I2CBus     string
	I2CAddress uint16
	I2CSpeed   physic.Frequency
	I2CTimeout time.Duration

	// Applied to the TIMING register only when SetTiming is true.
	SetTiming   bool
	Gain        byte
	Integration byte

	SensorPollInterval time.Duration

	TelemetryEnabled bool
	MQTTBroker       string
	MQTTUsername     string
	MQTTPassword     string
	DeviceID         string

	StatusLEDPin string

	DBPath   string
	HTTPAddr string
	SSL      bool
}

// LoadFromEnv reads the environment. args are the positional command line
// arguments; the first one, when present, overrides DEVICE_ID.
func LoadFromEnv(args []string) (Config, error) {
	var cfg Config
	var err error

	if cfg.LogLevel, err = logrus.ParseLevel(getenv("LOG_LEVEL", "info")); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogFile = getenv("LOG_FILE", "luxmeter.log")

	cfg.I2CBackend = strings.ToLower(getenv("I2C_BACKEND", "periph"))
	if _, err := i2cbus.BackendByName(cfg.I2CBackend); err != nil {
		return Config{}, err
	}
	cfg.I2CBus = getenv("I2C_BUS", "")

	addrStr := getenv("I2C_ADDRESS", "0x39")
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid I2C_ADDRESS %q: %w", addrStr, err)
	}
	cfg.I2CAddress = uint16(addr)

	if cfg.I2CSpeed, err = parseSpeed(getenv("I2C_SPEED", "standard")); err != nil {
		return Config{}, err
	}
	if cfg.I2CTimeout, err = parseDuration("I2C_TIMEOUT", "100ms"); err != nil {
		return Config{}, err
	}

	gainStr := getenv("TSL2561_GAIN", "")
	integStr := getenv("TSL2561_INTEGRATION", "")
	cfg.SetTiming = gainStr != "" || integStr != ""
	if cfg.Gain, err = parseGain(gainStr); err != nil {
		return Config{}, err
	}
	if cfg.Integration, err = parseIntegration(integStr); err != nil {
		return Config{}, err
	}

	if cfg.SensorPollInterval, err = parseDuration("SENSOR_POLL_INTERVAL", "1s"); err != nil {
		return Config{}, err
	}

	if cfg.TelemetryEnabled, err = strconv.ParseBool(getenv("TELEMETRY_ENABLED", "true")); err != nil {
		return Config{}, fmt.Errorf("invalid TELEMETRY_ENABLED: %w", err)
	}
	cfg.MQTTBroker = getenv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")
	cfg.DeviceID = getenv("DEVICE_ID", "tsl2561-meter")
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		cfg.DeviceID = strings.TrimSpace(args[0])
	}

	cfg.StatusLEDPin = os.Getenv("STATUS_LED_PIN")
	cfg.DBPath = getenv("DB_PATH", "luxmeter.db")
	cfg.HTTPAddr = getenv("HTTP_ADDR", ":80")
	cfg.SSL = os.Getenv("SSL") == "true"
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseDuration(key, def string) (time.Duration, error) {
	s := getenv(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseSpeed(s string) (physic.Frequency, error) {
	switch strings.ToLower(s) {
	case "standard":
		return i2cbus.SpeedStandard, nil
	case "fast":
		return i2cbus.SpeedFast, nil
	case "fastplus":
		return i2cbus.SpeedFastPlus, nil
	default:
		return 0, fmt.Errorf("invalid I2C_SPEED %q (allowed: standard, fast, fastplus)", s)
	}
}

func parseGain(s string) (byte, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "low", "1x":
		return tsl2561.TSL2561_GAIN_LOW, nil
	case "high", "16x":
		return tsl2561.TSL2561_GAIN_HIGH, nil
	default:
		return 0, fmt.Errorf("invalid TSL2561_GAIN %q (allowed: low, high)", s)
	}
}

func parseIntegration(s string) (byte, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "13ms", "13.7ms":
		return tsl2561.TSL2561_INTEGRATIONTIME_13MS, nil
	case "101ms":
		return tsl2561.TSL2561_INTEGRATIONTIME_101MS, nil
	case "", "402ms":
		return tsl2561.TSL2561_INTEGRATIONTIME_402MS, nil
	default:
		return 0, fmt.Errorf("invalid TSL2561_INTEGRATION %q (allowed: 13ms, 101ms, 402ms)", s)
	}
}
