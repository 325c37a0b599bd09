package broadcast

import (
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/marketpulse/internal/domain"
)

// Config holds the hub's tunables. Channel policies are fixed when a channel is created.
type Config struct {
	DefaultPolicy domain.ChannelPolicy
	// Channels overrides DefaultPolicy for named channels.
	Channels map[string]domain.ChannelPolicy
	// StrictChannels rejects channel names not present in Channels.
	StrictChannels bool

	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	HeartbeatMaxMisses int

	EnrichTimeout          time.Duration
	EnrichFailureThreshold uint
	EnrichBreakerDelay     time.Duration

	DrainTimeout time.Duration
	WriteTimeout time.Duration

	MaxConnectionsPerChannel int
	MaxMessageSize           int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy: domain.ChannelPolicy{
			Mode:           domain.ModeBroadcast,
			QueuePolicy:    domain.QueueDropOldest,
			SlowConsumer:   domain.SlowConsumerDropNewest,
			QueueCapacity:  1000,
			BufferCapacity: 100,
		},
		HeartbeatInterval:        25 * time.Second,
		HeartbeatTimeout:         50 * time.Second,
		HeartbeatMaxMisses:       1,
		EnrichTimeout:            50 * time.Millisecond,
		EnrichFailureThreshold:   5,
		EnrichBreakerDelay:       30 * time.Second,
		DrainTimeout:             5 * time.Second,
		WriteTimeout:             5 * time.Second,
		MaxConnectionsPerChannel: 10000,
		MaxMessageSize:           4096,
	}
}

// Validate rejects configurations that would break the hub's invariants.
func (c Config) Validate() error {
	var errs []error
	if err := c.DefaultPolicy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default policy: %w", err))
	}
	for name, p := range c.Channels {
		if err := domain.ValidateChannelName(name); err != nil {
			errs = append(errs, err)
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", name, err))
		}
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat timeout (%s) must be greater than interval (%s)", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.HeartbeatMaxMisses < 1 {
		errs = append(errs, errors.New("heartbeat max misses must be at least 1"))
	}
	if c.EnrichTimeout <= 0 {
		errs = append(errs, errors.New("enrich timeout must be positive"))
	}
	if c.EnrichFailureThreshold == 0 {
		errs = append(errs, errors.New("enrich failure threshold must be positive"))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, errors.New("drain timeout must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write timeout must be positive"))
	}
	if c.MaxConnectionsPerChannel <= 0 {
		errs = append(errs, errors.New("max connections per channel must be positive"))
	}
	return errors.Join(errs...)
}

// policyFor resolves the policy of a channel and whether the name is known.
func (c Config) policyFor(name string) (domain.ChannelPolicy, bool) {
	if p, ok := c.Channels[name]; ok {
		return p, true
	}
	return c.DefaultPolicy, !c.StrictChannels
}
