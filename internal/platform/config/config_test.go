package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 1000, cfg.QueueCapacity)
	assert.Equal(t, 100, cfg.BufferCapacity)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 50*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 1, cfg.HeartbeatMaxMisses)
	assert.Equal(t, 50*time.Millisecond, cfg.EnrichTimeout)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, "marketpulse", cfg.RedisChannelPrefix)
	assert.Equal(t, "marketpulse_events", cfg.PGNotifyChannel)
	assert.InDelta(t, 10.0, cfg.ConnectRate, 0.001)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.InDelta(t, 1.0, cfg.TraceSampleRate, 0.001)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "50")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HEARTBEAT_TIMEOUT", "30s")
	t.Setenv("APP_ENV", "production")
	t.Setenv("PUBLISH_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.QueueCapacity)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, "secret", cfg.PublishToken)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero queue", map[string]string{"QUEUE_CAPACITY": "0"}, "QUEUE_CAPACITY must be positive"},
		{"negative buffer", map[string]string{"BUFFER_CAPACITY": "-1"}, "BUFFER_CAPACITY must be positive"},
		{"timeout equals interval", map[string]string{"HEARTBEAT_INTERVAL": "30s", "HEARTBEAT_TIMEOUT": "30s"}, "must be greater than HEARTBEAT_INTERVAL"},
		{"zero misses", map[string]string{"HEARTBEAT_MAX_MISSES": "0"}, "HEARTBEAT_MAX_MISSES must be at least 1"},
		{"zero drain", map[string]string{"DRAIN_TIMEOUT": "0s"}, "DRAIN_TIMEOUT must be positive"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT must be text or json"},
		{"bad trace exporter", map[string]string{"TRACE_EXPORTER": "jaeger"}, "TRACE_EXPORTER must be"},
		{"sample rate above one", map[string]string{"TRACE_SAMPLE_RATE": "1.5"}, "TRACE_SAMPLE_RATE must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func basePolicy() domain.ChannelPolicy {
	return domain.ChannelPolicy{
		Mode:           domain.ModeBroadcast,
		QueuePolicy:    domain.QueueDropOldest,
		SlowConsumer:   domain.SlowConsumerDropNewest,
		QueueCapacity:  1000,
		BufferCapacity: 100,
	}
}

func TestDefaultChannels(t *testing.T) {
	policies, err := DefaultChannels().Policies(basePolicy())
	require.NoError(t, err)

	assert.Len(t, policies, 6)
	assert.Equal(t, domain.ModeBroadcast, policies["market"].Mode)
	assert.Equal(t, domain.ModeOptIn, policies["portfolio"].Mode)
	assert.Equal(t, 1000, policies["alerts"].QueueCapacity)
}

func TestLoadChannels_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strict_channels: true
channels:
  market:
    policy: broadcast
    queue_capacity: 2000
  portfolio:
    policy: opt_in
    buffer_capacity: 50
    slow_consumer: disconnect
`), 0o600))

	channels, err := LoadChannels(path)
	require.NoError(t, err)
	assert.True(t, channels.StrictChannels)

	policies, err := channels.Policies(basePolicy())
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, 2000, policies["market"].QueueCapacity)
	assert.Equal(t, 100, policies["market"].BufferCapacity)
	assert.Equal(t, domain.ModeOptIn, policies["portfolio"].Mode)
	assert.Equal(t, 50, policies["portfolio"].BufferCapacity)
	assert.Equal(t, domain.SlowConsumerDisconnect, policies["portfolio"].SlowConsumer)
}

func TestLoadChannels_EmptyPathUsesDefaults(t *testing.T) {
	channels, err := LoadChannels("")
	require.NoError(t, err)
	assert.Equal(t, DefaultChannels(), channels)
}

func TestLoadChannels_MissingFile(t *testing.T) {
	_, err := LoadChannels(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestChannels_PoliciesRejectsInvalid(t *testing.T) {
	channels := Channels{Channels: map[string]ChannelSpec{
		"market": {Policy: "everyone"},
		"news":   {QueueCapacity: -5},
	}}

	_, err := channels.Policies(basePolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown subscription mode "everyone"`)
	assert.Contains(t, err.Error(), "queue capacity must be positive")
}
