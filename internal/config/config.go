package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"injest/telemetry-agent/internal/models"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full agent configuration. Values come from the YAML file
// and can be overridden by environment variables.
type Config struct {
	Env         string `yaml:"env" env:"AGENT_ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"AGENT_STORAGE_PATH" env-default:"telemetry-agent.db"`

	Log         LogConfig         `yaml:"log"`
	Device      DeviceConfig      `yaml:"device"`
	Collector   CollectorConfig   `yaml:"collector"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Batching    BatchingConfig    `yaml:"batching"`
	Policy      PolicyConfig      `yaml:"policy"`
	Server      ServerConfig      `yaml:"server"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	SystemStats SystemStatsConfig `yaml:"system_stats"`
	Power       PowerConfig       `yaml:"power"`
	AppUsage    AppUsageConfig    `yaml:"app_usage"`
	History     HistoryConfig     `yaml:"history"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

type DeviceConfig struct {
	ID   int    `yaml:"id" env:"DEVICE_ID" env-default:"1"`
	Name string `yaml:"name" env:"DEVICE_NAME"`
}

// CollectorConfig describes the remote collector endpoint
type CollectorConfig struct {
	Host              string        `yaml:"host" env:"REALTIME_SERVER_IP" env-default:"127.0.0.1"`
	Port              int           `yaml:"port" env:"REALTIME_SERVER_PORT" env-default:"80"`
	Path              string        `yaml:"path" env:"COLLECTOR_PATH" env-default:"/ws"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"COLLECTOR_RECONNECT_DELAY" env-default:"5s"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"COLLECTOR_HANDSHAKE_TIMEOUT" env-default:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"COLLECTOR_WRITE_TIMEOUT" env-default:"10s"`
	OutboxSize        int           `yaml:"outbox_size" env:"COLLECTOR_OUTBOX_SIZE" env-default:"256"`
	HeartbeatPath     string        `yaml:"heartbeat_path" env:"COLLECTOR_HEARTBEAT_PATH" env-default:"/heartbeat"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"COLLECTOR_HEARTBEAT_INTERVAL" env-default:"30s"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"COLLECTOR_HEARTBEAT_TIMEOUT" env-default:"5s"`
}

type TrackerConfig struct {
	PendingTTL    time.Duration `yaml:"pending_ttl" env:"TRACKER_PENDING_TTL" env-default:"2m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"TRACKER_SWEEP_INTERVAL" env-default:"10s"`
	HistorySize   int           `yaml:"history_size" env:"TRACKER_HISTORY_SIZE" env-default:"500"`
}

type BatchingConfig struct {
	Enabled       bool          `yaml:"enabled" env:"BATCH_ENABLED"`
	Threshold     int           `yaml:"threshold" env:"BATCH_THRESHOLD" env-default:"100"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"BATCH_FLUSH_INTERVAL" env-default:"0s"`
}

// PolicyConfig holds the initial Send Gate flags
type PolicyConfig struct {
	SendDataEver        bool `yaml:"send_data_ever" env:"POLICY_SEND_DATA_EVER"`
	OnlySendWhenPlugged bool `yaml:"only_send_when_plugged" env:"POLICY_ONLY_WHEN_PLUGGED" env-default:"false"`

	Categories CategoryConfig `yaml:"categories"`
}

// CategoryConfig holds the per-producer enable flags
type CategoryConfig struct {
	Audio           bool `yaml:"audio" env:"CATEGORY_AUDIO"`
	GPS             bool `yaml:"gps" env:"CATEGORY_GPS"`
	Sensor          bool `yaml:"sensor" env:"CATEGORY_SENSOR"`
	Screenshot      bool `yaml:"screenshot" env:"CATEGORY_SCREENSHOT" env-default:"false"`
	Image           bool `yaml:"image" env:"CATEGORY_IMAGE"`
	ManualPhoto     bool `yaml:"manual_photo" env:"CATEGORY_MANUAL_PHOTO"`
	Notification    bool `yaml:"notification" env:"CATEGORY_NOTIFICATION"`
	PowerConnection bool `yaml:"power_connection" env:"CATEGORY_POWER_CONNECTION"`
	SMS             bool `yaml:"sms" env:"CATEGORY_SMS"`
	SystemStats     bool `yaml:"system_stats" env:"CATEGORY_SYSTEM_STATS"`
	AppUsage        bool `yaml:"app_usage" env:"CATEGORY_APP_USAGE"`
}

// ByType maps the flags onto message types
func (c CategoryConfig) ByType() map[models.MessageType]bool {
	return map[models.MessageType]bool{
		models.TypeAudio:           c.Audio,
		models.TypeGPS:             c.GPS,
		models.TypeSensor:          c.Sensor,
		models.TypeScreenshot:      c.Screenshot,
		models.TypeImage:           c.Image,
		models.TypeManualPhoto:     c.ManualPhoto,
		models.TypeNotification:    c.Notification,
		models.TypePowerConnection: c.PowerConnection,
		models.TypeSMS:             c.SMS,
		models.TypeSystemStats:     c.SystemStats,
		models.TypeAppUsage:        c.AppUsage,
	}
}

// ServerConfig controls the local ingest/status HTTP API
type ServerConfig struct {
	Enabled bool `yaml:"enabled" env:"SERVER_ENABLED"`
	Port    int  `yaml:"port" env:"SERVER_PORT" env-default:"8765"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker   string `yaml:"broker" env:"MQTT_BROKER" env-default:"tcp://127.0.0.1:1883"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID" env-default:"telemetry-agent"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC" env-default:"sensors/#"`
}

type SystemStatsConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SYSTEM_STATS_ENABLED"`
	Interval time.Duration `yaml:"interval" env:"SYSTEM_STATS_INTERVAL" env-default:"60s"`
}

type PowerConfig struct {
	Enabled      bool          `yaml:"enabled" env:"POWER_ENABLED"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POWER_POLL_INTERVAL" env-default:"15s"`
}

// AppUsageConfig controls foreground application sampling
type AppUsageConfig struct {
	Enabled      bool          `yaml:"enabled" env:"APP_USAGE_ENABLED" env-default:"false"`
	PollInterval time.Duration `yaml:"poll_interval" env:"APP_USAGE_POLL_INTERVAL" env-default:"5s"`
}

// HistoryConfig controls persistence of response-time records
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled" env:"HISTORY_ENABLED"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"HISTORY_FLUSH_INTERVAL" env-default:"30s"`
	Retain        int           `yaml:"retain" env:"HISTORY_RETAIN" env-default:"5000"`
}

// LoadConfig reads the YAML file at path and applies environment overrides.
// A missing file is not an error: defaults and environment are used instead.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaults seeds the flags that are on unless configured off. cleanenv only
// applies env-default to zero values, so a "true" tag default would override
// an explicit false from the file.
func defaults() Config {
	return Config{
		Policy: PolicyConfig{
			SendDataEver: true,
			Categories: CategoryConfig{
				Audio:           true,
				GPS:             true,
				Sensor:          true,
				Image:           true,
				ManualPhoto:     true,
				Notification:    true,
				PowerConnection: true,
				SMS:             true,
				SystemStats:     true,
				AppUsage:        true,
			},
		},
		Batching:    BatchingConfig{Enabled: true},
		Server:      ServerConfig{Enabled: true},
		SystemStats: SystemStatsConfig{Enabled: true},
		Power:       PowerConfig{Enabled: true},
		History:     HistoryConfig{Enabled: true},
	}
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.Collector.Host == "" {
		return fmt.Errorf("collector.host is required")
	}
	if c.Collector.ReconnectDelay <= 0 {
		return fmt.Errorf("collector.reconnect_delay must be positive")
	}
	if c.Collector.OutboxSize <= 0 {
		return fmt.Errorf("collector.outbox_size must be positive")
	}
	if c.Batching.Threshold <= 0 {
		return fmt.Errorf("batching.threshold must be positive")
	}
	if c.Tracker.HistorySize <= 0 {
		return fmt.Errorf("tracker.history_size must be positive")
	}
	if c.Tracker.PendingTTL <= 0 || c.Tracker.SweepInterval <= 0 {
		return fmt.Errorf("tracker.pending_ttl and tracker.sweep_interval must be positive")
	}
	if c.SystemStats.Enabled && c.SystemStats.Interval <= 0 {
		return fmt.Errorf("system_stats.interval must be positive")
	}
	if c.Power.Enabled && c.Power.PollInterval <= 0 {
		return fmt.Errorf("power.poll_interval must be positive")
	}
	if c.AppUsage.Enabled && c.AppUsage.PollInterval <= 0 {
		return fmt.Errorf("app_usage.poll_interval must be positive")
	}
	return nil
}
