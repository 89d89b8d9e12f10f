package common

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of all environment overrides (e.g. DMUX_POOL_MAX_CONNECTIONS)
const EnvPrefix = "dmux"

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// LoadClientConfig builds a configuration from the defaults, the optional
// document at path (json, yaml or toml, chosen by extension) and the DMUX_*
// environment overrides, in increasing order of precedence. Variables from
// .env and .env.local in the working directory are loaded first.
func LoadClientConfig(path string) (ClientConfig, error) {
	return LoadClientConfigFrom(DefaultClientConfig(), path)
}

// LoadClientConfigFrom is LoadClientConfig with a custom base (e.g. a preset)
func LoadClientConfigFrom(base ClientConfig, path string) (ClientConfig, error) {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := NewConfigViper(base)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return ClientConfig{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return DecodeClientConfig(v)
}

// NewConfigViper returns a viper instance that knows every option of
// ClientConfig (with base as default) and reads DMUX_* environment variables.
func NewConfigViper(base ClientConfig) *viper.Viper {
	v := viper.New()
	for key, value := range flatten("", base.ToMap()) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv() // read in environment variables that match
	return v
}

// DecodeClientConfig decodes the settings of v into a ClientConfig
func DecodeClientConfig(v *viper.Viper) (ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// --------------------------------------------------------------------------
// Saving
// --------------------------------------------------------------------------

// SaveClientConfig writes cfg to path, the format is chosen by the extension.
// Existing files are only replaced if overwrite is set.
func SaveClientConfig(cfg ClientConfig, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	v := viper.New()
	for key, value := range flatten("", cfg.ToMap()) {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// ToMap converts the configuration to the document layout used on disk.
// Durations are written as strings ("1m30s").
func (c *ClientConfig) ToMap() map[string]any {
	d := func(v time.Duration) string { return v.String() }
	return map[string]any{
		"endpoint":  c.Endpoint,
		"log_level": c.LogLevel,
		"pool": map[string]any{
			"max_connections":    c.Pool.MaxConnections,
			"min_connections":    c.Pool.MinConnections,
			"idle_timeout":       d(c.Pool.IdleTimeout),
			"sweep_interval":     d(c.Pool.SweepInterval),
			"reuse_limit":        c.Pool.ReuseLimit,
			"acquire_poll":       d(c.Pool.AcquirePoll),
			"degraded_threshold": c.Pool.DegradedThreshold,
		},
		"connection": map[string]any{
			"max_attempts":        c.Connection.MaxAttempts,
			"connect_timeout":     d(c.Connection.ConnectTimeout),
			"max_connect_timeout": d(c.Connection.MaxConnectTimeout),
			"backoff_base":        d(c.Connection.BackoffBase),
			"max_backoff":         d(c.Connection.MaxBackoff),
			"keepalive_interval":  d(c.Connection.KeepaliveInterval),
		},
		"cache": map[string]any{
			"enabled":  c.Cache.Enabled,
			"max_size": c.Cache.MaxSize,
			"ttl":      d(c.Cache.TTL),
			"methods":  c.Cache.Methods,
		},
		"batch": map[string]any{
			"enabled":  c.Batch.Enabled,
			"max_size": c.Batch.MaxSize,
			"max_wait": d(c.Batch.MaxWait),
		},
		"session": map[string]any{
			"base_timeout":    d(c.Session.BaseTimeout),
			"max_timeout":     d(c.Session.MaxTimeout),
			"latency_window":  c.Session.LatencyWindow,
			"max_in_flight":   c.Session.MaxInFlight,
			"queue_size":      c.Session.QueueSize,
			"health_interval": d(c.Session.HealthInterval),
			"flood_window":    d(c.Session.FloodWindow),
			"flood_threshold": c.Session.FloodThreshold,
			"backoff_min":     d(c.Session.BackoffMin),
			"backoff_max":     d(c.Session.BackoffMax),
		},
		"crypto": map[string]any{
			"enabled":         c.Crypto.Enabled,
			"backend":         c.Crypto.Backend,
			"workers":         c.Crypto.Workers,
			"key":             c.Crypto.Key,
			"hash_cache_size": c.Crypto.HashCacheSize,
		},
		"transport": map[string]any{
			"type":           c.Transport.Type,
			"serializer":     c.Transport.Serializer,
			"write_buffer":   c.Transport.WriteBufferSize,
			"read_buffer":    c.Transport.ReadBufferSize,
			"max_frame_size": c.Transport.MaxFrameSize,
			"tcp_nodelay":    c.Transport.TCPNoDelay,
			"tcp_keepalive":  c.Transport.TCPKeepAliveSec,
			"tcp_linger":     c.Transport.TCPLingerSec,
		},
		"metrics": map[string]any{
			"enabled":             c.Metrics.Enabled,
			"performance_logging": c.Metrics.PerformanceLogging,
			"report_interval":     d(c.Metrics.ReportInterval),
			"slow_threshold":      d(c.Metrics.SlowThreshold),
		},
	}
}

// flatten converts nested maps into dotted viper keys
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}
