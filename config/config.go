package config

import (
	"bytes"
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Env        string           `yaml:"env"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Push       PushConfig       `yaml:"push"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	AWS        AWSConfig        `yaml:"aws"`
	Vendor     VendorConfig     `yaml:"vendor"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// LifecycleConfig holds the defaults of the event state machine.
type LifecycleConfig struct {
	AutoCancelMinutes      int             `yaml:"auto_cancel_minutes"`
	ParcelExpirationHours  int             `yaml:"parcel_expiration_hours"`
	CodeDigits             int             `yaml:"code_digits"`
	CodeMaxAttempts        int             `yaml:"code_max_attempts"`
	Currency               string          `yaml:"currency"`
	MinimumCharge          decimal.Decimal `yaml:"minimum_charge"`
	CatalogCacheTTLSeconds int             `yaml:"catalog_cache_ttl_seconds"`
	UnlockPerSec           float64         `yaml:"unlock_per_sec"`
	UnlockBurst            int             `yaml:"unlock_burst"`
}

// SchedulerConfig holds the transition scheduler configuration.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	LeaseSeconds    int           `yaml:"lease_seconds"`
	Lease           time.Duration `yaml:"-"`
	BatchSize       int           `yaml:"batch_size"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// KafkaConfig holds the change-notification stream configuration. An empty
// broker list logs notifications instead of publishing them.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MQTTConfig holds the BLE/MQTT bridge broker configuration.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	QoS            byte   `yaml:"qos"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AWSConfig holds the AWS IoT data plane configuration.
type AWSConfig struct {
	Region        string `yaml:"region"`
	IoTEndpoint   string `yaml:"iot_endpoint"`
	TopicTemplate string `yaml:"topic_template"`
}

// VendorConfig holds the vendor lock REST API configuration.
type VendorConfig struct {
	BaseURL        string           `yaml:"base_url"`
	APIKey         string           `yaml:"api_key"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	StatusPoll     StatusPollConfig `yaml:"status_poll"`
}

// StatusPollConfig holds the lock status poller configuration. The vendor
// reports raw state codes; the value lists map them to lock statuses and
// any other code is recorded as unknown.
type StatusPollConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Path            string        `yaml:"path"`
	PageSize        int           `yaml:"page_size"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	LockedValues    []int         `yaml:"state_locked_values"`
	OpenValues      []int         `yaml:"state_open_values"`
	ClosedValues    []int         `yaml:"state_closed_values"`
	OfflineValues   []int         `yaml:"state_offline_values"`
}

// Load reads the configuration from the given path. Variables from a .env
// file in the working directory are loaded first and ${VAR} references in
// the YAML are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 10
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Lifecycle.AutoCancelMinutes <= 0 {
		cfg.Lifecycle.AutoCancelMinutes = 5
	}
	if cfg.Lifecycle.ParcelExpirationHours <= 0 {
		cfg.Lifecycle.ParcelExpirationHours = 72
	}
	if cfg.Lifecycle.CodeDigits <= 0 {
		cfg.Lifecycle.CodeDigits = 6
	}
	if cfg.Lifecycle.CodeMaxAttempts <= 0 {
		cfg.Lifecycle.CodeMaxAttempts = 5
	}
	if cfg.Lifecycle.Currency == "" {
		cfg.Lifecycle.Currency = "usd"
	}
	if !cfg.Lifecycle.MinimumCharge.IsPositive() {
		cfg.Lifecycle.MinimumCharge = decimal.New(50, -2)
	}
	if cfg.Lifecycle.CatalogCacheTTLSeconds <= 0 {
		cfg.Lifecycle.CatalogCacheTTLSeconds = 30
	}
	if cfg.Lifecycle.UnlockPerSec <= 0 {
		cfg.Lifecycle.UnlockPerSec = 1
	}
	if cfg.Lifecycle.UnlockBurst <= 0 {
		cfg.Lifecycle.UnlockBurst = 3
	}

	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 5
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if cfg.Scheduler.LeaseSeconds <= 0 {
		cfg.Scheduler.LeaseSeconds = 60
	}
	cfg.Scheduler.Lease = time.Duration(cfg.Scheduler.LeaseSeconds) * time.Second
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Scheduler.MaxAttempts <= 0 {
		cfg.Scheduler.MaxAttempts = 10
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 256
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "event-status"
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "reservationd"
	}
	if cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.TimeoutSeconds <= 0 {
		cfg.MQTT.TimeoutSeconds = 5
	}

	if cfg.AWS.TopicTemplate == "" {
		cfg.AWS.TopicTemplate = "lockers/%s/commands"
	}

	if cfg.Vendor.TimeoutSeconds <= 0 {
		cfg.Vendor.TimeoutSeconds = 10
	}
	if cfg.Vendor.StatusPoll.Path == "" {
		cfg.Vendor.StatusPoll.Path = "/locks/status"
	}
	if cfg.Vendor.StatusPoll.PageSize <= 0 {
		cfg.Vendor.StatusPoll.PageSize = 100
	}
	if cfg.Vendor.StatusPoll.IntervalSeconds <= 0 {
		cfg.Vendor.StatusPoll.IntervalSeconds = 30
	}
	cfg.Vendor.StatusPoll.Interval = time.Duration(cfg.Vendor.StatusPoll.IntervalSeconds) * time.Second
}
