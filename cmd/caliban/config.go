package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/patseev/caliban/engine/natsengine"
	"github.com/patseev/caliban/gateway/graphql"
)

// appConfig is the top-level configuration file shape.
type appConfig struct {
	NATS struct {
		URL  string `json:"url"`
		Name string `json:"name,omitempty"`
	} `json:"nats"`

	Gateway graphql.Config    `json:"gateway"`
	Engine  natsengine.Config `json:"engine"`

	Metrics struct {
		Enabled bool   `json:"enabled"`
		Port    int    `json:"port,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"metrics"`
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*appConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg appConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// validate applies defaults and checks every section. The environment
// variable CALIBAN_NATS_URL overrides the configured NATS URL.
func (c *appConfig) validate() error {
	if envURL := os.Getenv("CALIBAN_NATS_URL"); envURL != "" {
		c.NATS.URL = envURL
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Name == "" {
		c.NATS.Name = appName + "-gateway"
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	return nil
}
