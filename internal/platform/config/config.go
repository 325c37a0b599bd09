package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	QueueCapacity      int           `env:"QUEUE_CAPACITY" default:"1000"`
	BufferCapacity     int           `env:"BUFFER_CAPACITY" default:"100"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"25s"`
	HeartbeatTimeout   time.Duration `env:"HEARTBEAT_TIMEOUT" default:"50s"`
	HeartbeatMaxMisses int           `env:"HEARTBEAT_MAX_MISSES" default:"1"`
	EnrichTimeout      time.Duration `env:"ENRICH_TIMEOUT" default:"50ms"`
	DrainTimeout       time.Duration `env:"DRAIN_TIMEOUT" default:"5s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" default:"5s"`

	MaxConnectionsPerChannel int     `env:"MAX_CONNECTIONS_PER_CHANNEL" default:"10000"`
	MaxWebSocketConnections  int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"50000"`
	MaxConnectionsPerIP      int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectRate              float64 `env:"CONNECT_RATE" default:"10"`
	ConnectBurst             int     `env:"CONNECT_BURST" default:"20"`

	PublishToken string `env:"PUBLISH_TOKEN"`

	RedisURL           string `env:"REDIS_URL"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" default:"marketpulse"`
	DatabaseURL        string `env:"DATABASE_URL"`
	PGNotifyChannel    string `env:"PG_NOTIFY_CHANNEL" default:"marketpulse_events"`

	ChannelsFile string `env:"CHANNELS_FILE"`

	TraceExporter   string  `env:"TRACE_EXPORTER" default:"none"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" default:"localhost:4317"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" default:"1"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment reports whether localhost origins should be accepted.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	positive := []struct {
		name  string
		value int
	}{
		{"QUEUE_CAPACITY", cfg.QueueCapacity},
		{"BUFFER_CAPACITY", cfg.BufferCapacity},
		{"MAX_CONNECTIONS_PER_CHANNEL", cfg.MaxConnectionsPerChannel},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECT_BURST", cfg.ConnectBurst},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"HEARTBEAT_INTERVAL", cfg.HeartbeatInterval},
		{"ENRICH_TIMEOUT", cfg.EnrichTimeout},
		{"DRAIN_TIMEOUT", cfg.DrainTimeout},
		{"WRITE_TIMEOUT", cfg.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must be greater than HEARTBEAT_INTERVAL (%s)", cfg.HeartbeatTimeout, cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatMaxMisses < 1 {
		return errors.New("HEARTBEAT_MAX_MISSES must be at least 1")
	}
	if cfg.ConnectRate <= 0 {
		return fmt.Errorf("CONNECT_RATE must be positive, got %g", cfg.ConnectRate)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	switch cfg.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("TRACE_EXPORTER must be none, stdout or otlp, got %q", cfg.TraceExporter)
	}
	if cfg.TraceSampleRate <= 0 || cfg.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be in (0, 1], got %g", cfg.TraceSampleRate)
	}

	return nil
}
