// Package config loads rqmon settings from defaults, a YAML or JSON file and
// RQ_MONITOR_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Bind      string   `json:"bind" yaml:"bind"`
	Port      int      `json:"port" yaml:"port"`
	URLPrefix string   `json:"urlPrefix" yaml:"urlPrefix"`
	RedisURLs []string `json:"redisUrls" yaml:"redisUrls"`
	// RefreshIntervalMS is how often dashboards are told to poll.
	RefreshIntervalMS int  `json:"refreshInterval" yaml:"refreshInterval"`
	Debug             bool `json:"debug" yaml:"debug"`
	Verbose           bool `json:"verbose" yaml:"verbose"`

	// MutationRate and MutationBurst bound the POST routes (requests per second).
	MutationRate  float64 `json:"mutationRate" yaml:"mutationRate"`
	MutationBurst int     `json:"mutationBurst" yaml:"mutationBurst"`

	SSH SSH `json:"ssh" yaml:"ssh"`
}

// SSH configures remote worker control.
type SSH struct {
	// ConfigFiles are ssh_config files in precedence order; empty means the defaults.
	ConfigFiles    []string `json:"configFiles" yaml:"configFiles"`
	KnownHosts     string   `json:"knownHosts" yaml:"knownHosts"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	// LocalHostnames are the worker hostnames signalled locally; empty means
	// this machine's hostname and localhost.
	LocalHostnames []string `json:"localHostnames" yaml:"localHostnames"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Bind:              "0.0.0.0",
		Port:              8899,
		RedisURLs:         []string{"redis://127.0.0.1:6379"},
		RefreshIntervalMS: 2000,
		MutationRate:      5,
		MutationBurst:     10,
		SSH:               SSH{TimeoutSeconds: 10},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		err = yaml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Bind, c.Port) }

// RefreshInterval returns the dashboard poll interval.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMS) * time.Millisecond
}

// SSHTimeout returns the dial and handshake bound for remote control.
func (c Config) SSHTimeout() time.Duration { return time.Duration(c.SSH.TimeoutSeconds) * time.Second }

// Validate checks ranges and parses every Redis URL.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.RedisURLs) == 0 {
		errs = append(errs, errors.New("at least one redis url is required"))
	}
	for _, u := range c.RedisURLs {
		if _, err := redis.ParseURL(u); err != nil {
			errs = append(errs, fmt.Errorf("redis url %q: %w", u, err))
		}
	}
	if c.RefreshIntervalMS <= 0 {
		errs = append(errs, errors.New("refresh interval must be positive"))
	}
	if c.MutationRate <= 0 || c.MutationBurst < 1 {
		errs = append(errs, errors.New("mutation rate and burst must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
