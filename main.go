package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/tsl2561-meter/internal/config"
	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/internal/luxmeter"
	"github.com/ztkent/tsl2561-meter/internal/telemetry"
	"github.com/ztkent/tsl2561-meter/internal/tools"
	"github.com/ztkent/tsl2561-meter/tsl2561"
)

/*
	Entry point for the TSL2561 lux meter. It runs at startup on a Linux board
	with the sensor on I2C, polls it once per interval, records every reading,
	and forwards lux to the IoT hub when telemetry is enabled.
*/

func main() {
	os.Exit(int(run()))
}

func run() luxmeter.ExitCode {
	cfg, err := config.LoadFromEnv(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return luxmeter.ExitCodeInitConfig
	}

	log, logCloser, err := tools.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log: %v\n", err)
		return luxmeter.ExitCodeInitConfig
	}
	defer logCloser.Close()
	tsl2561.SetLogger(log)
	log.WithField("pid", os.Getpid()).Info("TSL2561 Lux Meter starting")

	backend, err := i2cbus.BackendByName(cfg.I2CBackend)
	if err != nil {
		log.WithError(err).Error("Invalid I2C backend")
		return luxmeter.ExitCodeInitConfig
	}
	session, err := luxmeter.Open(luxmeter.SessionConfig{
		Backend:     backend,
		Bus:         cfg.I2CBus,
		Address:     cfg.I2CAddress,
		Speed:       cfg.I2CSpeed,
		Timeout:     cfg.I2CTimeout,
		SetTiming:   cfg.SetTiming,
		Gain:        cfg.Gain,
		Integration: cfg.Integration,
	}, log)
	if err != nil {
		code := luxmeter.ExitCodeFor(err)
		log.WithError(err).WithField("exit_code", code).Error("Failed to connect to the TSL2561 sensor")
		return code
	}
	defer session.Close()

	db, err := tools.ConnectSqlite(cfg.DBPath, log)
	if err != nil {
		log.WithError(err).Error("Failed to connect to the sqlite database")
		return luxmeter.ExitCodeInitDatabase
	}
	defer db.Close()
	store := luxmeter.NewStore(db)

	var led luxmeter.LED = &luxmeter.NopLED{}
	if cfg.StatusLEDPin != "" {
		gpioLED, err := luxmeter.OpenGPIOLED(cfg.StatusLEDPin)
		if err != nil {
			log.WithError(err).Error("Failed to open the status LED")
			return luxmeter.ExitCodeInitStatusLed
		}
		led = gpioLED
	}
	defer led.Close()

	var tele luxmeter.Telemetry
	var client *telemetry.Client
	if cfg.TelemetryEnabled {
		if cfg.MQTTBroker == "" || cfg.DeviceID == "" {
			log.Error("Telemetry enabled without a broker or device id")
			return luxmeter.ExitCodeInitTelemetry
		}
		client = telemetry.NewClient(telemetry.Options{
			Broker:   cfg.MQTTBroker,
			DeviceID: cfg.DeviceID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, log)
		defer client.Disconnect()
		tele = client
	}

	status := luxmeter.NewStatus(session)
	poller := luxmeter.NewPoller(session, store, tele, status, log)
	loop := luxmeter.NewEventLoop(poller, tele, led, store, status, cfg.SensorPollInterval, log)
	if client != nil {
		client.OnDesiredProperties(loop.DesiredProperties)
		client.OnConnectionStatus(func(connected bool, reason error) {
			log.WithError(reason).WithField("connected", connected).Info("IoT hub connection status changed")
		})
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: newRouter(&luxmeter.Server{Store: store, Status: status, DBPath: cfg.DBPath, Location: time.Local, Log: log}),
	}
	go serve(srv, cfg.SSL, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	code := loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
	log.WithField("exit_code", code).Infof("Exiting: %s", code)
	return code
}

func newRouter(s *luxmeter.Server) *chi.Mux {
	r := chi.NewRouter()
	// Log requests and recover from panics
	r.Use(middleware.Logger)
	r.Use(luxmeter.HandleServerPanic)
	s.Routes(r)
	return r
}

func serve(srv *http.Server, ssl bool, log logrus.FieldLogger) {
	var err error
	if ssl {
		certPath, keyPath := "cert.pem", "key.pem"
		// Generate a self-signed certificate if one doesn't exist
		if err := tools.EnsureCertificate(certPath, keyPath); err != nil {
			log.WithError(err).Error("Failed to prepare TLS certificate")
			return
		}
		log.Infof("Starting HTTPS server on %s", srv.Addr)
		err = srv.ListenAndServeTLS(certPath, keyPath)
	} else {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("HTTP server failed")
	}
}
