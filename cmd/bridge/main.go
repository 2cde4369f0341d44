// Package main is the entry point for the PLC link bridge. It wires the
// hardware-socket transport, the Modbus client, the poll loop, and the
// MQTT and HTTP surfaces, and manages the application lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/plc-link/internal/adapter/config"
	"github.com/nexus-edge/plc-link/internal/adapter/modbus"
	"github.com/nexus-edge/plc-link/internal/adapter/mqtt"
	"github.com/nexus-edge/plc-link/internal/api"
	"github.com/nexus-edge/plc-link/internal/health"
	"github.com/nexus-edge/plc-link/internal/hwsock"
	_ "github.com/nexus-edge/plc-link/internal/hwsock/netsock" // register the host-network driver
	"github.com/nexus-edge/plc-link/internal/metrics"
	"github.com/nexus-edge/plc-link/internal/service"
	"github.com/nexus-edge/plc-link/pkg/logging"
)

const (
	serviceName    = "plc-link"
	serviceVersion = "1.0.0"
)

func main() {
	// Bootstrap logger from the environment; rebuilt below once the
	// config is in.
	logger := logging.New(serviceName, serviceVersion, logging.Options{})
	logger.Info().Msg("Starting PLC link bridge")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger = logging.New(serviceName, serviceVersion, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info().Str("env", cfg.Environment).Msg("Configuration loaded")

	metricsRegistry := metrics.NewRegistry(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// =============================================================
	// Transport and Modbus client
	// =============================================================

	netCfg, err := cfg.Network.Transport()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid network configuration")
	}
	transport, err := hwsock.NewTransport(cfg.Network.Driver, netCfg)
	if err != nil {
		logger.Fatal().Err(err).
			Strs("available", hwsock.Drivers()).
			Msg("Failed to create transport")
	}
	logger.Info().Str("driver", cfg.Network.Driver).Msg("Transport initialized")

	plcAddr, err := cfg.PLC.Addr()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid PLC address")
	}
	client, err := modbus.New(transport, modbus.Config{
		TargetIP:        plcAddr,
		TargetPort:      cfg.PLC.Port,
		UnitID:          cfg.PLC.UnitID,
		LocalPort:       cfg.PLC.LocalPort,
		ResponseTimeout: cfg.PLC.ResponseTimeout,
		ConnectTimeout:  cfg.PLC.ConnectTimeout,
		RetryCount:      cfg.PLC.RetryCount,
		RetryInterval:   cfg.PLC.RetryInterval,
		AutoReconnect:   cfg.PLC.AutoReconnect,
		ForceARP:        cfg.PLC.ForceARP,
	}, logger, metricsRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Modbus client")
	}
	defer client.Close()

	// The first connect may race service start on a cold PLC; the client
	// reconnects on demand, so a failure here only delays data.
	if err := client.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial PLC connection failed, will retry on demand")
	} else {
		logger.Info().
			Str("plc", fmt.Sprintf("%s:%d", cfg.PLC.IP, cfg.PLC.Port)).
			Uint8("unit_id", cfg.PLC.UnitID).
			Msg("PLC session established")
	}

	// =============================================================
	// MQTT publisher
	// =============================================================

	publisher, err := mqtt.NewPublisher(mqtt.Config{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            cfg.MQTT.QoS,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		ReconnectDelay: cfg.MQTT.ReconnectDelay,
		TLSEnabled:     cfg.MQTT.TLSEnabled,
		TLSCertFile:    cfg.MQTT.TLSCertFile,
		TLSKeyFile:     cfg.MQTT.TLSKeyFile,
		TLSCAFile:      cfg.MQTT.TLSCAFile,
		BufferSize:     cfg.MQTT.BufferSize,
	}, logger, metricsRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MQTT publisher")
	}
	if err := publisher.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}
	defer publisher.Disconnect()

	// =============================================================
	// Poll loop and write commands
	// =============================================================

	points, err := config.LoadPoints(cfg.PointsConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PointsConfigPath).Msg("Failed to load point definitions")
	}
	logger.Info().Int("count", len(points)).Msg("Loaded point definitions")

	poller := service.NewPoller(service.PollerConfig{
		Interval:    cfg.Polling.Interval,
		ReadTimeout: cfg.Polling.Interval,
	}, client, publisher, points, logger, metricsRegistry)

	if cfg.Polling.Enabled {
		if err := poller.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start poll loop")
		}
	} else {
		logger.Warn().Msg("Polling disabled by configuration")
	}

	var cmdHandler *service.CommandHandler
	if cfg.MQTT.CommandsOn {
		cmdHandler = service.NewCommandHandler(
			publisher.Client(),
			client,
			points,
			service.CommandConfig{
				TopicPrefix: cfg.MQTT.TopicPrefix,
				QoS:         cfg.MQTT.QoS,
				Acks:        cfg.MQTT.CommandAcks,
			},
			logger,
			metricsRegistry,
		)
		if err := cmdHandler.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start command handler, writes over MQTT disabled")
			cmdHandler = nil
		}
	}

	// =============================================================
	// Health checks and HTTP server
	// =============================================================

	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		CheckInterval:  30 * time.Second,
	}, logger)
	healthChecker.AddCheck("plc", client)
	healthChecker.AddCheck("mqtt", publisher)
	healthChecker.AddCheck("link", linkCheck{transport})
	healthChecker.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	apiServer := api.NewServer(client, poller, publisher, logger)
	apiServer.Register(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	logger.Info().
		Str("plc", fmt.Sprintf("%s:%d", cfg.PLC.IP, cfg.PLC.Port)).
		Str("mqtt_broker", cfg.MQTT.BrokerURL).
		Int("points", len(points)).
		Int("http_port", cfg.HTTP.Port).
		Msg("PLC link bridge started")

	// =============================================================
	// Shutdown
	// =============================================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	healthChecker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cmdHandler != nil {
		if err := cmdHandler.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping command handler")
		}
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping poll loop")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	logger.Info().Msg("PLC link bridge shutdown complete")
}

// linkCheck reports the PHY link as a health check.
type linkCheck struct {
	transport hwsock.Transport
}

func (c linkCheck) HealthCheck(ctx context.Context) error {
	link, err := c.transport.LinkState()
	if err != nil {
		return err
	}
	if !link.Up {
		return fmt.Errorf("ethernet link down")
	}
	return nil
}
