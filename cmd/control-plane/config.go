package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the control plane's on-disk configuration (spec §6/§4.4). Flags
// override whatever the config file sets; both are optional, and the zero
// value is a sensible single-node default.
type Config struct {
	NodeID         string `yaml:"nodeId"`
	DataDir        string `yaml:"dataDir"`
	HTTPAddr       string `yaml:"httpAddr"`
	GRPCAddr       string `yaml:"grpcAddr"`
	LogLevel       string `yaml:"logLevel"`
	LogJSON        bool   `yaml:"logJson"`
	RedisAddr      string `yaml:"redisAddr"`

	LeaseTTLSeconds       int           `yaml:"leaseTtlSeconds"`
	DispatchTickInterval  time.Duration `yaml:"dispatchTickInterval"`
	LivenessCheckInterval time.Duration `yaml:"livenessCheckInterval"`
	NodeUnreachableAfter  time.Duration `yaml:"nodeUnreachableAfter"`

	RunRetention     time.Duration `yaml:"runRetention"`
	RetentionCron    string        `yaml:"retentionCron"`
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "./agentctl-data"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "127.0.0.1:8080"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = "127.0.0.1:8081"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RunRetention == 0 {
		c.RunRetention = 7 * 24 * time.Hour
	}
	if c.RetentionCron == "" {
		c.RetentionCron = "0 */15 * * * *"
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
