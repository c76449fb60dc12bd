package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Engine   EngineConfig             `yaml:"engine" envPrefix:"TICKFLOW_ENGINE_"`
	NATS     NATSConfig               `yaml:"nats" envPrefix:"TICKFLOW_NATS_"`
	Binance  BinanceConfig            `yaml:"binance" envPrefix:"TICKFLOW_BINANCE_"`
	Kafka    KafkaConfig              `yaml:"kafka" envPrefix:"TICKFLOW_KAFKA_"`
	Redis    RedisConfig              `yaml:"redis" envPrefix:"TICKFLOW_REDIS_"`
	Postgres PostgresConfig           `yaml:"postgres" envPrefix:"TICKFLOW_POSTGRES_"`
	Alert    AlertConfig              `yaml:"alert" envPrefix:"TICKFLOW_ALERT_"`
	API      APIConfig                `yaml:"api" envPrefix:"TICKFLOW_API_"`
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// EngineConfig holds the stream processor settings. Values are validated by
// processor.New: anything non-positive fails construction rather than being
// clamped.
type EngineConfig struct {
	Symbols        []string `yaml:"symbols" env:"SYMBOLS" envSeparator:","`
	BufferSize     int      `yaml:"buffer_size" env:"BUFFER_SIZE"`
	ThrottleMs     int      `yaml:"throttle_ms" env:"THROTTLE_MS"`
	BatchSize      int      `yaml:"batch_size" env:"BATCH_SIZE"`
	CandlePeriodMs int64    `yaml:"candle_period_ms" env:"CANDLE_PERIOD_MS"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	URL           string        `yaml:"url" env:"URL"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"`
	MaxReconnects int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	StreamMaxAge  time.Duration `yaml:"stream_max_age" env:"STREAM_MAX_AGE"`
}

// BinanceConfig holds the Binance websocket feed configuration
type BinanceConfig struct {
	Enabled        bool            `yaml:"enabled" env:"ENABLED"`
	WSBaseURL      string          `yaml:"ws_base_url" env:"WS_BASE_URL"`
	ResyncInterval time.Duration   `yaml:"resync_interval" env:"RESYNC_INTERVAL"`
	WebSocket      WebSocketConfig `yaml:"websocket" envPrefix:"WS_"`
}

// WebSocketConfig holds WebSocket connection settings
type WebSocketConfig struct {
	MaxStreamsPerConn int           `yaml:"max_streams_per_conn" env:"MAX_STREAMS_PER_CONN"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" env:"MAX_RECONNECT_DELAY"`
	ConnectStagger    time.Duration `yaml:"connect_stagger" env:"CONNECT_STAGGER"`
}

// KafkaConfig holds the Kafka tick feed configuration
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"ENABLED"`
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
	GroupID string   `yaml:"group_id" env:"GROUP_ID"`
}

// RedisConfig holds the candle cache sink configuration
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Addr        string        `yaml:"addr" env:"ADDR"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	DB          int           `yaml:"db" env:"DB"`
	TTL         time.Duration `yaml:"ttl" env:"TTL"`
	RecentLimit int           `yaml:"recent_limit" env:"RECENT_LIMIT"`
	Namespace   string        `yaml:"namespace" env:"NAMESPACE"`
}

// PostgresConfig holds the candle archive sink configuration
type PostgresConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	URL           string        `yaml:"url" env:"URL"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	BatchSize     int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// AlertConfig holds the price-move alerting configuration
type AlertConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	ThresholdPct    float64       `yaml:"threshold_pct" env:"THRESHOLD_PCT"`
	Cooldown        time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	ExpansionFactor float64       `yaml:"expansion_factor" env:"EXPANSION_FACTOR"`
	Channels        []string      `yaml:"channels" env:"CHANNELS" envSeparator:","`
}

// APIConfig holds the HTTP status server configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// ChannelConfig defines a notification channel
type ChannelConfig struct {
	Type      string `yaml:"type"` // telegram, webhook
	Enabled   bool   `yaml:"enabled"`
	EnvPrefix string `yaml:"env_prefix"` // prefix for env vars: {PREFIX}_TOKEN, etc.
}

// ResolvedChannel contains fully resolved channel config with env values
type ResolvedChannel struct {
	Name    string
	Type    string // telegram, webhook
	Enabled bool

	// Telegram fields
	Token    string
	ChatID   string
	ThreadID string

	// Webhook fields
	URL     string
	Method  string // GET, POST
	Body    string // body template for POST
	Headers string // JSON headers
}

// Load reads configuration in layers: optional .env file, built-in defaults,
// YAML file overlay, then TICKFLOW_* environment overrides. An absent YAML key
// keeps its default; an explicitly bad value surfaces when the component
// consuming it is constructed.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	return cfg, nil
}

// ResolveChannel resolves a channel config by reading env vars
func (c *Config) ResolveChannel(name string) *ResolvedChannel {
	ch, ok := c.Channels[name]
	if !ok || !ch.Enabled {
		return nil
	}

	prefix := ch.EnvPrefix
	if prefix == "" {
		return nil
	}

	resolved := &ResolvedChannel{
		Name:    name,
		Type:    ch.Type,
		Enabled: ch.Enabled,
	}

	switch ch.Type {
	case "telegram":
		resolved.Token = os.Getenv(prefix + "_TOKEN")
		resolved.ChatID = os.Getenv(prefix + "_CHAT_ID")
		resolved.ThreadID = os.Getenv(prefix + "_THREAD_ID")
		if resolved.Token == "" || resolved.ChatID == "" {
			return nil // missing required fields
		}

	case "webhook":
		resolved.URL = os.Getenv(prefix + "_URL")
		resolved.Method = os.Getenv(prefix + "_METHOD")
		resolved.Body = os.Getenv(prefix + "_BODY")
		resolved.Headers = os.Getenv(prefix + "_HEADERS")
		if resolved.URL == "" {
			return nil // missing required field
		}
		if resolved.Method == "" {
			resolved.Method = "POST" // default
		}
	}

	return resolved
}

// defaultConfig returns configuration with sensible defaults
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Symbols:        []string{},
			BufferSize:     1000,
			ThrottleMs:     100,
			BatchSize:      50,
			CandlePeriodMs: 60000,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			ReconnectWait: 2 * time.Second,
			MaxReconnects: 10,
			StreamMaxAge:  6 * time.Hour,
		},
		Binance: BinanceConfig{
			WSBaseURL:      "wss://stream.binance.com:9443",
			ResyncInterval: time.Minute,
			WebSocket: WebSocketConfig{
				MaxStreamsPerConn: 50,
				ReconnectDelay:    time.Second,
				MaxReconnectDelay: 30 * time.Second,
				ConnectStagger:    200 * time.Millisecond,
			},
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "market-ticks",
			GroupID: "tickflow",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			TTL:         5 * time.Minute,
			RecentLimit: 100,
			Namespace:   "candles",
		},
		Postgres: PostgresConfig{
			FlushInterval: 10 * time.Second,
			BatchSize:     200,
		},
		Alert: AlertConfig{
			ThresholdPct:    2.0,
			Cooldown:        5 * time.Minute,
			ExpansionFactor: 1.2,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Channels: make(map[string]ChannelConfig),
	}
}
