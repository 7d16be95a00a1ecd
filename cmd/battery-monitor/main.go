package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/alerts"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/broadcast"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/bus"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/config"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/metrics"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/modelstore"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/pipeline"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/predictor"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/simulator"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/storage"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting battery-monitor", slog.Int("fleet_size", len(cfg.Fleet)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	fleet := simulator.NewFleet(logger, time.Now().UnixNano())
	for _, unit := range cfg.Fleet {
		fleet.AddUnit(unit)
	}

	store := storage.NewMemoryStore(cfg.Collector.HistoryCapacity)

	var publisher broadcast.Publisher = broadcast.NoopPublisher{}
	if cfg.Broadcast.Enabled {
		mqttPub, err := broadcast.NewMQTTPublisher(logger, cfg.Broadcast.BrokerURL, cfg.Broadcast.ClientID, cfg.Broadcast.TopicPrefix)
		if err != nil {
			logger.Warn("mqtt broker unavailable, broadcasting disabled", slog.Any("error", err))
		} else {
			publisher = mqttPub
		}
	}
	defer publisher.Close()

	var sink bus.AlertSink = bus.NoopSink{}
	if cfg.AlertBus.Enabled {
		sink = bus.NewKafkaSink(logger, cfg.AlertBus.Brokers, cfg.AlertBus.Topic)
	}
	defer sink.Close()

	models, err := modelstore.NewFileStore(cfg.Models.Dir)
	if err != nil {
		logger.Error("failed to open model store", slog.Any("error", err))
		os.Exit(1)
	}

	orchestrator := predictor.NewOrchestrator(logger, store, models, predictor.Options{
		HistoryWindow:  cfg.Models.HistoryWindow,
		HistoryLimit:   cfg.Models.HistoryLimit,
		TrainingWindow: cfg.Models.TrainingWindow,
	})
	orchestrator.Bootstrap()

	collector := pipeline.NewCollector(
		logger,
		fleet,
		store,
		alerts.NewEvaluator(cfg.Alerts),
		publisher,
		sink,
		cfg.Collector.TickInterval,
		cfg.Collector.FlushInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	collector.Start()

	go func() {
		ticker := time.NewTicker(cfg.Models.RetrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if orchestrator.Retrain(ctx) {
					orchestrator.PredictAll()
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				stats := collector.Stats()
				logger.Info("pipeline status",
					slog.Bool("running", collector.Running()),
					slog.Uint64("samples_generated", stats.SamplesGenerated),
					slog.Uint64("samples_flushed", stats.SamplesFlushed),
					slog.Uint64("alerts_raised", stats.AlertsRaised),
					slog.Int("pending", stats.Pending))
				for id, status := range fleet.Status(now.UTC()) {
					logger.Info("unit status",
						slog.String("unit_id", id),
						slog.Float64("health_score", status.HealthScore),
						slog.Float64("capacity", status.Capacity),
						slog.Float64("temperature", status.Temperature),
						slog.Float64("cycle_count", status.CycleCount))
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	collector.Stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("battery-monitor stopped")
}
