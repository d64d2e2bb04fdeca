package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youssefsiam38/agentmem/storage"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultObservationThreshold = Fixed(30000)
	DefaultReflectionThreshold  = Fixed(40000)
	DefaultScope                = storage.ScopeThread
)

// Config holds memory configuration.
type Config struct {
	// ObservationThreshold is the unobserved message token mass that triggers
	// an observation cycle.
	// Default: 30000
	ObservationThreshold Threshold

	// ReflectionThreshold is the observation pool size that triggers a
	// reflection cycle.
	// Default: 40000
	ReflectionThreshold Threshold

	// Scope selects whether keys name conversation threads or resources.
	// Default: storage.ScopeThread
	Scope storage.Scope

	// CycleLease is how long a cycle guard may stay set before another
	// caller is allowed to take it over. A guard left behind by a crashed
	// process is otherwise never cleared.
	// Default: 0 (disabled)
	CycleLease time.Duration
}

// DefaultConfig returns a Config with default thresholds and thread scope.
func DefaultConfig() *Config {
	return &Config{
		ObservationThreshold: DefaultObservationThreshold,
		ReflectionThreshold:  DefaultReflectionThreshold,
		Scope:                DefaultScope,
	}
}

// ApplyDefaults fills in unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.ObservationThreshold == nil {
		c.ObservationThreshold = DefaultObservationThreshold
	}
	if c.ReflectionThreshold == nil {
		c.ReflectionThreshold = DefaultReflectionThreshold
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if err := ValidateThreshold(c.ObservationThreshold); err != nil {
		return fmt.Errorf("observation.message_tokens: %w", err)
	}
	if err := ValidateThreshold(c.ReflectionThreshold); err != nil {
		return fmt.Errorf("reflection.observation_tokens: %w", err)
	}
	if !c.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q, must be %q or %q",
			ErrInvalidConfig, c.Scope, storage.ScopeThread, storage.ScopeResource)
	}
	if c.CycleLease < 0 {
		return fmt.Errorf("%w: cycle_lease must be non-negative, got %s", ErrInvalidConfig, c.CycleLease)
	}
	return nil
}

// fileConfig is the YAML shape of Config.
type fileConfig struct {
	Observation struct {
		MessageTokens *ThresholdValue `yaml:"message_tokens"`
	} `yaml:"observation"`
	Reflection struct {
		ObservationTokens *ThresholdValue `yaml:"observation_tokens"`
	} `yaml:"reflection"`
	Scope      storage.Scope `yaml:"scope"`
	CycleLease time.Duration `yaml:"cycle_lease"`
}

// ParseConfig decodes a YAML (or JSON) document into a Config. Omitted
// fields take their defaults; the result is validated.
//
//	observation:
//	  message_tokens: 30000
//	reflection:
//	  observation_tokens: {min: 20000, max: 40000}
//	scope: resource
//	cycle_lease: 10m
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		Scope:      fc.Scope,
		CycleLease: fc.CycleLease,
	}
	if fc.Observation.MessageTokens != nil {
		cfg.ObservationThreshold = fc.Observation.MessageTokens.Threshold
	}
	if fc.Reflection.ObservationTokens != nil {
		cfg.ReflectionThreshold = fc.Reflection.ObservationTokens.Threshold
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
