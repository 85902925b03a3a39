package config

import (
	"os"
	"strconv"
	"strings"
)

// Prefix is the environment variable prefix.
const Prefix = "RQ_MONITOR_"

// FromEnv overlays RQ_MONITOR_* environment variables onto cfg. List values are
// comma separated. Malformed numbers and booleans are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv(Prefix + "BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv(Prefix + "PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := os.LookupEnv(Prefix + "URL_PREFIX"); ok {
		cfg.URLPrefix = v
	}
	if v := os.Getenv(Prefix + "REDIS_URL"); v != "" {
		cfg.RedisURLs = splitList(v)
	}
	if v := os.Getenv(Prefix + "REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshIntervalMS = n
		}
	}
	if v := os.Getenv(Prefix + "DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv(Prefix + "VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
	if v := os.Getenv(Prefix + "MUTATION_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MutationRate = f
		}
	}
	if v := os.Getenv(Prefix + "MUTATION_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MutationBurst = n
		}
	}
	if v := os.Getenv(Prefix + "SSH_CONFIG"); v != "" {
		cfg.SSH.ConfigFiles = splitList(v)
	}
	if v := os.Getenv(Prefix + "KNOWN_HOSTS"); v != "" {
		cfg.SSH.KnownHosts = v
	}
	if v := os.Getenv(Prefix + "SSH_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SSH.TimeoutSeconds = n
		}
	}
	if v := os.Getenv(Prefix + "LOCAL_HOSTNAMES"); v != "" {
		cfg.SSH.LocalHostnames = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
