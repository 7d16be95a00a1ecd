package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/alerts"
	"github.com/yamaguchi-1tadaki/lithium-battery-monitoring/internal/simulator"
)

// Config captures the settings required to boot the monitoring service.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Fleet     []simulator.UnitConfig `yaml:"fleet"`
	Collector CollectorConfig        `yaml:"collector"`
	Alerts    alerts.Thresholds      `yaml:"alerts"`
	Broadcast BroadcastConfig        `yaml:"broadcast"`
	AlertBus  AlertBusConfig         `yaml:"alertBus"`
	Models    ModelsConfig           `yaml:"models"`
	Logging   LoggingConfig          `yaml:"logging"`
}

// ServerConfig controls the observability listener.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// CollectorConfig tunes the collection pipeline.
type CollectorConfig struct {
	TickInterval    time.Duration `yaml:"tickInterval"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
	HistoryCapacity int           `yaml:"historyCapacity"`
}

// BroadcastConfig controls MQTT telemetry streaming.
type BroadcastConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"brokerURL"`
	ClientID    string `yaml:"clientID"`
	TopicPrefix string `yaml:"topicPrefix"`
}

// AlertBusConfig controls Kafka alert forwarding.
type AlertBusConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ModelsConfig controls model persistence and the retraining cadence.
type ModelsConfig struct {
	Dir             string        `yaml:"dir"`
	RetrainInterval time.Duration `yaml:"retrainInterval"`
	HistoryWindow   time.Duration `yaml:"historyWindow"`
	HistoryLimit    int           `yaml:"historyLimit"`
	TrainingWindow  time.Duration `yaml:"trainingWindow"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BATTERY_MONITOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Fleet: []simulator.UnitConfig{
			{ID: "battery_001", Model: "LI-2500", NominalVoltage: 3.7, NominalCapacity: 2.5, InitialSOH: 1.0},
			{ID: "battery_002", Model: "LI-2500", NominalVoltage: 3.7, NominalCapacity: 2.5, InitialSOH: 1.0},
			{ID: "battery_003", Model: "LI-2500", NominalVoltage: 3.7, NominalCapacity: 2.5, InitialSOH: 1.0},
		},
		Collector: CollectorConfig{
			TickInterval:    1 * time.Second,
			FlushInterval:   5 * time.Second,
			HistoryCapacity: 100000,
		},
		Alerts: alerts.DefaultThresholds(),
		Broadcast: BroadcastConfig{
			Enabled:     false,
			ClientID:    "battery-monitor",
			TopicPrefix: "battery/telemetry",
		},
		AlertBus: AlertBusConfig{
			Enabled: false,
			Topic:   "battery.alerts",
		},
		Models: ModelsConfig{
			Dir:             "models/saved",
			RetrainInterval: 24 * time.Hour,
			HistoryWindow:   24 * time.Hour,
			HistoryLimit:    500,
			TrainingWindow:  30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BATTERY_MONITOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("BATTERY_MONITOR_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.TickInterval = d
		}
	}
	if v := os.Getenv("BATTERY_MONITOR_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.FlushInterval = d
		}
	}
	if v := os.Getenv("BATTERY_MONITOR_HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collector.HistoryCapacity = n
		}
	}
	if v := os.Getenv("BATTERY_MONITOR_BROADCAST_ENABLED"); v != "" {
		cfg.Broadcast.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("BATTERY_MONITOR_BROKER_URL"); v != "" {
		cfg.Broadcast.BrokerURL = v
	}
	if v := os.Getenv("BATTERY_MONITOR_CLIENT_ID"); v != "" {
		cfg.Broadcast.ClientID = v
	}
	if v := os.Getenv("BATTERY_MONITOR_TOPIC_PREFIX"); v != "" {
		cfg.Broadcast.TopicPrefix = v
	}
	if v := os.Getenv("BATTERY_MONITOR_ALERT_BUS_ENABLED"); v != "" {
		cfg.AlertBus.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("BATTERY_MONITOR_ALERT_BUS_BROKERS"); v != "" {
		cfg.AlertBus.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BATTERY_MONITOR_ALERT_BUS_TOPIC"); v != "" {
		cfg.AlertBus.Topic = v
	}
	if v := os.Getenv("BATTERY_MONITOR_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("BATTERY_MONITOR_RETRAIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Models.RetrainInterval = d
		}
	}
	if v := os.Getenv("BATTERY_MONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BATTERY_MONITOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if len(c.Fleet) == 0 {
		return fmt.Errorf("config: fleet must define at least one unit")
	}
	seen := make(map[string]struct{}, len(c.Fleet))
	for _, unit := range c.Fleet {
		if unit.ID == "" {
			return fmt.Errorf("config: fleet unit without id")
		}
		if _, dup := seen[unit.ID]; dup {
			return fmt.Errorf("config: duplicate fleet unit id %q", unit.ID)
		}
		seen[unit.ID] = struct{}{}
	}
	if c.Collector.TickInterval <= 0 {
		return fmt.Errorf("config: tickInterval must be positive")
	}
	if c.Collector.FlushInterval <= 0 {
		return fmt.Errorf("config: flushInterval must be positive")
	}
	if c.Broadcast.Enabled && c.Broadcast.BrokerURL == "" {
		return fmt.Errorf("config: broadcast enabled without brokerURL")
	}
	if c.AlertBus.Enabled && len(c.AlertBus.Brokers) == 0 {
		return fmt.Errorf("config: alert bus enabled without brokers")
	}
	return nil
}
