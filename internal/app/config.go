package app

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	TopologyPath string // hcl file or directory

	CredentialsURL       string
	CredentialsNamespace string
	CredentialsTimeout   time.Duration
	// SafetyMargin is how long before expiry a session is renewed.
	SafetyMargin time.Duration

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.TopologyPath == "" {
		return nil, errors.New("TopologyPath is a required configuration field and cannot be empty")
	}
	if cfg.CredentialsTimeout < 0 {
		return nil, fmt.Errorf("credentials timeout must not be negative, got %s", cfg.CredentialsTimeout)
	}
	if cfg.SafetyMargin < 0 {
		return nil, fmt.Errorf("safety margin must not be negative, got %s", cfg.SafetyMargin)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port out of range: %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
