package config

import (
	"errors"
	"fmt"

	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/spf13/viper"
)

// ChannelSpec is one entry of the channel definitions file. Zero values
// inherit the process-wide defaults.
type ChannelSpec struct {
	Policy         string `mapstructure:"policy"`
	QueuePolicy    string `mapstructure:"queue_policy"`
	SlowConsumer   string `mapstructure:"slow_consumer"`
	QueueCapacity  int    `mapstructure:"queue_capacity"`
	BufferCapacity int    `mapstructure:"buffer_capacity"`
}

// Channels is the parsed channel definitions file.
type Channels struct {
	StrictChannels bool                   `mapstructure:"strict_channels"`
	Channels       map[string]ChannelSpec `mapstructure:"channels"`
}

// DefaultChannels returns the built-in channel set used without a file.
func DefaultChannels() Channels {
	return Channels{
		Channels: map[string]ChannelSpec{
			"market":    {Policy: string(domain.ModeBroadcast)},
			"charts":    {Policy: string(domain.ModeBroadcast)},
			"news":      {Policy: string(domain.ModeBroadcast)},
			"alerts":    {Policy: string(domain.ModeOptIn)},
			"signals":   {Policy: string(domain.ModeOptIn)},
			"portfolio": {Policy: string(domain.ModeOptIn)},
		},
	}
}

// LoadChannels reads a YAML (or any viper-supported) channel definitions
// file. An empty path returns DefaultChannels.
func LoadChannels(path string) (Channels, error) {
	if path == "" {
		return DefaultChannels(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Channels{}, fmt.Errorf("failed to read channels file %s: %w", path, err)
	}

	var out Channels
	if err := v.Unmarshal(&out); err != nil {
		return Channels{}, fmt.Errorf("failed to parse channels file %s: %w", path, err)
	}
	if len(out.Channels) == 0 && out.StrictChannels {
		return Channels{}, errors.New("strict_channels requires at least one channel")
	}
	return out, nil
}

// Policies resolves every channel spec against base and validates it.
func (c Channels) Policies(base domain.ChannelPolicy) (map[string]domain.ChannelPolicy, error) {
	out := make(map[string]domain.ChannelPolicy, len(c.Channels))
	var errs []error
	for name, spec := range c.Channels {
		p := base
		if spec.Policy != "" {
			p.Mode = domain.SubscriptionMode(spec.Policy)
		}
		if spec.QueuePolicy != "" {
			p.QueuePolicy = domain.QueuePolicy(spec.QueuePolicy)
		}
		if spec.SlowConsumer != "" {
			p.SlowConsumer = domain.SlowConsumerPolicy(spec.SlowConsumer)
		}
		if spec.QueueCapacity != 0 {
			p.QueueCapacity = spec.QueueCapacity
		}
		if spec.BufferCapacity != 0 {
			p.BufferCapacity = spec.BufferCapacity
		}

		if err := domain.ValidateChannelName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", name, err))
			continue
		}
		out[name] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
