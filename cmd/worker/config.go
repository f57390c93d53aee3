package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the worker's on-disk configuration (spec §4.5). Flags override
// whatever the config file sets.
type Config struct {
	NodeID               string            `yaml:"nodeId"`
	Metadata             map[string]string `yaml:"metadata"`
	Capacity             map[string]int    `yaml:"capacity"`
	ControlPlaneHTTPAddr string            `yaml:"controlPlaneHttpAddr"`
	ControlPlaneGRPCAddr string            `yaml:"controlPlaneGrpcAddr"`
	AgentExecPath        string            `yaml:"agentExecPath"`
	OutputEndpoint       string            `yaml:"outputEndpoint"`

	MaxConcurrentLeases int           `yaml:"maxConcurrentLeases"`
	MaxDeliveryCount    int           `yaml:"maxDeliveryCount"`
	HeartbeatInterval   time.Duration `yaml:"heartbeatInterval"`
	DrainTimeout        time.Duration `yaml:"drainTimeout"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
}

func (c Config) withDefaults() Config {
	if c.ControlPlaneHTTPAddr == "" {
		c.ControlPlaneHTTPAddr = "http://127.0.0.1:8080"
	}
	if c.ControlPlaneGRPCAddr == "" {
		c.ControlPlaneGRPCAddr = "127.0.0.1:8081"
	}
	if c.AgentExecPath == "" {
		c.AgentExecPath = "agent-exec"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
