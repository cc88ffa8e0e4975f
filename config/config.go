package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	StubbleTrack StubbleTrackConfig `yaml:"stubbletrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"STUBBLE_DB_HOST"`
	Port     int    `yaml:"port" env:"STUBBLE_DB_PORT"`
	Username string `yaml:"username" env:"STUBBLE_DB_USER"`
	Password string `yaml:"password" env:"STUBBLE_DB_PASSWORD"`
	DBName   string `yaml:"name" env:"STUBBLE_DB_NAME"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN собирает строку подключения pgx; пустой ssl_mode = disable.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                string `yaml:"host" env:"STUBBLE_KAFKA_HOST"`
	Port                int    `yaml:"port" env:"STUBBLE_KAFKA_PORT"`
	LoadEventsTopicName string `yaml:"load_events_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host" env:"STUBBLE_REDIS_HOST"`
	Port int    `yaml:"port" env:"STUBBLE_REDIS_PORT"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type StubbleTrackConfig struct {
	HTTPAddr            string `yaml:"http_addr" env:"STUBBLE_HTTP_ADDR"`
	WorkerHTTPAddr      string `yaml:"worker_http_addr" env:"STUBBLE_WORKER_HTTP_ADDR"`
	LogLevel            string `yaml:"log_level" env:"STUBBLE_LOG_LEVEL"`
	KafkaConsumerGroup  string `yaml:"kafka_consumer_group"`
	ConsumerMaxAttempts int    `yaml:"consumer_max_attempts"`
	LoadCacheTTLSeconds int    `yaml:"load_cache_ttl_seconds"`

	NearbyDefaultRadiusKm    float64 `yaml:"nearby_default_radius_km"`
	NearbyMaxRadiusKm        float64 `yaml:"nearby_max_radius_km"`
	NearbyMaxResults         int     `yaml:"nearby_max_results"`
	NearbyRateLimitPerMinute int     `yaml:"nearby_rate_limit_per_minute"`

	// Carbon ledger. Пустая таблица = встроенные коэффициенты.
	PointsPerKg           float64            `yaml:"points_per_kg"`
	EmissionFactors       map[string]float64 `yaml:"emission_factors"`
	DefaultEmissionFactor float64            `yaml:"default_emission_factor"`

	OutboxPollIntervalSeconds int `yaml:"outbox_poll_interval_seconds"`
	OutboxBatchSize           int `yaml:"outbox_batch_size"`
	OutboxConcurrency         int `yaml:"outbox_concurrency"`
	OutboxLeaseSeconds        int `yaml:"outbox_lease_seconds"`
	OutboxBackoff1Seconds     int `yaml:"outbox_backoff_1_seconds"`
	OutboxBackoff2Seconds     int `yaml:"outbox_backoff_2_seconds"`
	OutboxBackoff3Seconds     int `yaml:"outbox_backoff_3_seconds"`
	OutboxBackoff4Seconds     int `yaml:"outbox_backoff_4_seconds"`

	NotifierMode       string `yaml:"notifier_mode"` // "webhook" | "log"
	NotifierWebhookURL string `yaml:"notifier_webhook_url" env:"STUBBLE_NOTIFIER_WEBHOOK_URL"`
}

// SlogLevel maps log_level to a slog level; unknown values mean info.
func (c StubbleTrackConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig reads the YAML file, then lets STUBBLE_* environment variables
// override the connection settings.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	return &config, nil
}
