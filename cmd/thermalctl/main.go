package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/thermalctl/internal/api"
	"codeberg.org/mutker/thermalctl/internal/config"
	"codeberg.org/mutker/thermalctl/internal/cooling"
	"codeberg.org/mutker/thermalctl/internal/event"
	"codeberg.org/mutker/thermalctl/internal/gpu"
	"codeberg.org/mutker/thermalctl/internal/history"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"codeberg.org/mutker/thermalctl/internal/notify"
	"codeberg.org/mutker/thermalctl/internal/pid"
	"codeberg.org/mutker/thermalctl/internal/sensor"
	"codeberg.org/mutker/thermalctl/internal/telemetry"
	"codeberg.org/mutker/thermalctl/internal/thermal"
)

const stopTimeout = 10 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("thermalctl stopped with an error")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	pidPath := cfg.PIDFile
	if pidPath == "" {
		pidPath = pid.DefaultPath()
	}
	if err := pid.Write(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	io := sensor.NewRouter(sensor.Sysfs{})
	registry := cooling.NewRegistry(io)

	if cfg.NVML {
		src, err := gpu.NewSource(gpu.NewLibrary())
		if err != nil {
			logger.Warn().Err(err).Msg("NVML unavailable, GPU sensors and drivers disabled")
		} else {
			io.Handle(gpu.Scheme, src)
			src.RegisterDrivers(registry)
			defer func() {
				if err := src.Close(); err != nil {
					logger.Error().Err(err).Msg("Failed to restore GPU defaults")
				}
			}()
		}
	}

	model := thermal.Build(cfg, io, registry)

	recorder, err := history.NewService(history.Config{
		Enabled:      cfg.History.Enabled,
		DBPath:       cfg.History.DBPath,
		BatchSize:    cfg.History.BatchSize,
		BatchTimeout: cfg.History.BatchTimeout,
	}, logger.New("history"))
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event history")
		}
	}()

	var system *thermal.System
	metrics := telemetry.NewMetrics(telemetry.StatusFunc(func() thermal.Status {
		return system.Status()
	}))
	for _, d := range model.Devices {
		d.Observe(metrics)
	}

	sinks := event.FanOut{event.LogSink{Log: logger.New("events")}, recorder, metrics}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, notify.Options{
			WriteTimeout: cfg.Kafka.WriteTimeout,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			MaxFailures:  cfg.Kafka.BreakerFailures,
			ResetTimeout: cfg.Kafka.BreakerReset,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close Kafka writer")
			}
		}()
		sinks = append(sinks, kafkaSink)
	}

	pipeline := event.NewPipeline(cfg.QueueSize, sinks, logger.New("pipeline"))
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		pipeline.Run(context.Background())
	}()

	system = thermal.New(model, thermal.Options{
		IO:               io,
		Pipeline:         pipeline,
		Shutdowner:       thermal.CommandShutdown{Command: cfg.Shutdown.Command},
		DefaultProfile:   cfg.DefaultProfile,
		DefaultPollDelay: cfg.DefaultPollDelay(),
	})

	zonesCtx, stopZones := context.WithCancel(context.Background())
	defer stopZones()

	if err := system.Start(zonesCtx); err != nil {
		pipeline.Close()
		<-drained
		return err
	}

	serveErr := make(chan error, 1)
	if cfg.Listen != "" {
		server := api.New(system, recorder, metrics)
		go func() { serveErr <- server.ListenAndServe(ctx, cfg.Listen) }()
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP API failed")
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	system.Stop(stopCtx)
	<-drained

	return err
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
