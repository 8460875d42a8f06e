// Package kafka publishes opened alerts to a broker topic so downstream
// compliance tooling can consume them.
package kafka

import (
	"errors"
	"fmt"
	"time"
)

// ErrProducerClosed is returned from publishes after Close.
var ErrProducerClosed = errors.New("kafka: producer closed")

// Config holds broker connection settings for the alert topic producer.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RequiredAcks int           `yaml:"required_acks"`
}

// DefaultConfig returns producer defaults suitable for a local broker.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		Topic:        "security-alerts",
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxRetries:   3,
		RequiredAcks: -1,
	}
}

// Validate rejects configurations that cannot produce.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka: topic required")
	}
	if c.RequiredAcks < -1 || c.RequiredAcks > 1 {
		return fmt.Errorf("kafka: required_acks must be -1, 0, or 1, got %d", c.RequiredAcks)
	}
	return nil
}
