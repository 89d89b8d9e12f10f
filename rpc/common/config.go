package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Client configuration sections
// --------------------------------------------------------------------------

// PoolConfig bounds the connection pool
type PoolConfig struct {
	// MaxConnections is the hard upper bound of active connections
	MaxConnections int `mapstructure:"max_connections"`
	// MinConnections is kept alive by the idle sweep
	MinConnections int `mapstructure:"min_connections"`
	// IdleTimeout after which checked-in connections are closed by the sweep
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SweepInterval is the period of the idle sweep
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// ReuseLimit is the number of checkouts after which a connection is no longer reused
	ReuseLimit int `mapstructure:"reuse_limit"`
	// AcquirePoll is the polling interval of a saturated acquire
	AcquirePoll time.Duration `mapstructure:"acquire_poll"`
	// DegradedThreshold is the health score below which a connection is not reused
	DegradedThreshold float64 `mapstructure:"degraded_threshold"`
}

// ConnectionConfig tunes a single connection
type ConnectionConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxConnectTimeout time.Duration `mapstructure:"max_connect_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// CacheConfig tunes the result cache
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
	// Methods is the allow-list of cacheable (read-only) methods
	Methods []string `mapstructure:"methods"`
}

// BatchConfig tunes the request batcher
type BatchConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxSize int           `mapstructure:"max_size"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// SessionConfig tunes the session façade
type SessionConfig struct {
	// BaseTimeout is the floor of the adaptive timeout
	BaseTimeout time.Duration `mapstructure:"base_timeout"`
	// MaxTimeout caps the adaptive timeout
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	// LatencyWindow is the number of latencies the adaptive timeout is computed from
	LatencyWindow int `mapstructure:"latency_window"`
	// MaxInFlight bounds the number of concurrently dispatched requests
	MaxInFlight int `mapstructure:"max_in_flight"`
	// QueueSize bounds the number of requests waiting for dispatch
	QueueSize int `mapstructure:"queue_size"`

	HealthInterval time.Duration `mapstructure:"health_interval"`
	FloodWindow    time.Duration `mapstructure:"flood_window"`
	FloodThreshold int           `mapstructure:"flood_threshold"`

	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

// CryptoConfig selects the crypto backend
type CryptoConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	Workers int    `mapstructure:"workers"`
	// Key is the hex encoded 32 byte session key
	Key           string `mapstructure:"key"`
	HashCacheSize int    `mapstructure:"hash_cache_size"`
}

// TransportConfig selects and tunes the transport
type TransportConfig struct {
	// Type is one of tcp, unix, http, ws
	Type string `mapstructure:"type"`
	// Serializer is one of json, gob, binary
	Serializer      string `mapstructure:"serializer"`
	WriteBufferSize int    `mapstructure:"write_buffer"`
	ReadBufferSize  int    `mapstructure:"read_buffer"`
	MaxFrameSize    int    `mapstructure:"max_frame_size"`
	TCPNoDelay      bool   `mapstructure:"tcp_nodelay"`
	TCPKeepAliveSec int    `mapstructure:"tcp_keepalive"`
	TCPLingerSec    int    `mapstructure:"tcp_linger"`
}

// MetricsConfig controls performance logging
type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PerformanceLogging bool          `mapstructure:"performance_logging"`
	ReportInterval     time.Duration `mapstructure:"report_interval"`
	SlowThreshold      time.Duration `mapstructure:"slow_threshold"`
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of the session runtime.
type ClientConfig struct {
	Endpoint   string           `mapstructure:"endpoint"`
	LogLevel   string           `mapstructure:"log_level"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Session    SessionConfig    `mapstructure:"session"`
	Crypto     CryptoConfig     `mapstructure:"crypto"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DefaultClientConfig returns the configuration used when no option is set
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: "localhost:8080",
		LogLevel: "info",
		Pool: PoolConfig{
			MaxConnections:    10,
			MinConnections:    2,
			IdleTimeout:       300 * time.Second,
			SweepInterval:     60 * time.Second,
			ReuseLimit:        100,
			AcquirePoll:       100 * time.Millisecond,
			DegradedThreshold: 0.3,
		},
		Connection: ConnectionConfig{
			MaxAttempts:       5,
			ConnectTimeout:    15 * time.Second,
			MaxConnectTimeout: 60 * time.Second,
			BackoffBase:       time.Second,
			MaxBackoff:        30 * time.Second,
			KeepaliveInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 1000,
			TTL:     300 * time.Second,
			Methods: append([]string(nil), DefaultCacheableMethods...),
		},
		Batch: BatchConfig{
			Enabled: true,
			MaxSize: 10,
			MaxWait: 100 * time.Millisecond,
		},
		Session: SessionConfig{
			BaseTimeout:    30 * time.Second,
			MaxTimeout:     120 * time.Second,
			LatencyWindow:  100,
			MaxInFlight:    50,
			QueueSize:      1000,
			HealthInterval: 30 * time.Second,
			FloodWindow:    5 * time.Minute,
			FloodThreshold: 3,
			BackoffMin:     time.Second,
			BackoffMax:     60 * time.Second,
		},
		Crypto: CryptoConfig{
			Enabled:       false,
			Backend:       "aes-ctr",
			Workers:       min(4, runtime.NumCPU()),
			HashCacheSize: 1000,
		},
		Transport: TransportConfig{
			Type:            "tcp",
			Serializer:      "binary",
			WriteBufferSize: 512 * 1024,
			ReadBufferSize:  512 * 1024,
			MaxFrameSize:    16 * 1024 * 1024,
			TCPNoDelay:      true,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ReportInterval: 60 * time.Second,
			SlowThreshold:  time.Second,
		},
	}
}

// --------------------------------------------------------------------------
// Presets
// --------------------------------------------------------------------------

// PresetNames lists the names accepted by Preset
var PresetNames = []string{"default", "high_performance", "memory_efficient", "development"}

// Preset returns the named preset
func Preset(name string) (ClientConfig, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case "", "default":
		return DefaultClientConfig(), nil
	case "high_performance":
		return HighPerformance(), nil
	case "memory_efficient":
		return MemoryEfficient(), nil
	case "development":
		return Development(), nil
	default:
		return ClientConfig{}, fmt.Errorf("unknown preset %q, must be one of %s", name, strings.Join(PresetNames, ", "))
	}
}

// HighPerformance trades memory for throughput: more connections, a large
// cache and bigger, faster batches.
func HighPerformance() ClientConfig {
	c := DefaultClientConfig()
	c.Pool.MaxConnections = 20
	c.Pool.MinConnections = 5
	c.Pool.IdleTimeout = 600 * time.Second
	c.Cache.MaxSize = 50000
	c.Cache.TTL = 2 * time.Hour
	c.Crypto.Workers = 8
	c.Batch.MaxSize = 20
	c.Batch.MaxWait = 50 * time.Millisecond
	return c
}

// MemoryEfficient keeps the footprint small.
func MemoryEfficient() ClientConfig {
	c := DefaultClientConfig()
	c.Pool.MaxConnections = 5
	c.Pool.MinConnections = 1
	c.Pool.IdleTimeout = 120 * time.Second
	c.Cache.MaxSize = 1000
	c.Cache.TTL = 30 * time.Minute
	c.Crypto.Workers = 2
	c.Crypto.HashCacheSize = 100
	c.Batch.MaxSize = 5
	c.Session.QueueSize = 100
	c.Transport.WriteBufferSize = 64 * 1024
	c.Transport.ReadBufferSize = 64 * 1024
	return c
}

// Development enables verbose performance logging.
func Development() ClientConfig {
	c := DefaultClientConfig()
	c.LogLevel = "debug"
	c.Pool.MaxConnections = 5
	c.Cache.MaxSize = 5000
	c.Metrics.Enabled = true
	c.Metrics.PerformanceLogging = true
	c.Metrics.SlowThreshold = 500 * time.Millisecond
	c.Metrics.ReportInterval = 30 * time.Second
	return c
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// Validate checks the configuration for inconsistent values
func (c *ClientConfig) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Pool.MaxConnections > 0, "pool.max_connections must be positive")
	check(c.Pool.MinConnections >= 0, "pool.min_connections must not be negative")
	check(c.Pool.MinConnections <= c.Pool.MaxConnections, "pool.min_connections (%d) exceeds pool.max_connections (%d)", c.Pool.MinConnections, c.Pool.MaxConnections)
	check(c.Pool.ReuseLimit > 0, "pool.reuse_limit must be positive")
	check(c.Pool.AcquirePoll > 0, "pool.acquire_poll must be positive")
	check(c.Pool.DegradedThreshold >= 0 && c.Pool.DegradedThreshold <= 1, "pool.degraded_threshold must be within [0,1]")
	check(c.Connection.MaxAttempts > 0, "connection.max_attempts must be positive")
	check(c.Connection.ConnectTimeout > 0, "connection.connect_timeout must be positive")
	check(c.Connection.MaxConnectTimeout >= c.Connection.ConnectTimeout, "connection.max_connect_timeout must not be below connection.connect_timeout")
	check(c.Connection.KeepaliveInterval > 0, "connection.keepalive_interval must be positive")
	check(!c.Cache.Enabled || c.Cache.MaxSize > 0, "cache.max_size must be positive")
	check(!c.Cache.Enabled || c.Cache.TTL > 0, "cache.ttl must be positive")
	check(!c.Batch.Enabled || c.Batch.MaxSize > 0, "batch.max_size must be positive")
	check(!c.Batch.Enabled || c.Batch.MaxWait > 0, "batch.max_wait must be positive")
	check(c.Session.BaseTimeout > 0, "session.base_timeout must be positive")
	check(c.Session.MaxTimeout >= c.Session.BaseTimeout, "session.max_timeout must not be below session.base_timeout")
	check(c.Session.LatencyWindow > 0, "session.latency_window must be positive")
	check(c.Session.MaxInFlight > 0, "session.max_in_flight must be positive")
	check(c.Session.QueueSize > 0, "session.queue_size must be positive")
	check(c.Session.BackoffMin > 0 && c.Session.BackoffMax >= c.Session.BackoffMin, "session.backoff_min/backoff_max are inconsistent")
	check(c.Crypto.Workers > 0, "crypto.workers must be positive")
	check(c.Transport.MaxFrameSize > 0, "transport.max_frame_size must be positive")
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// --------------------------------------------------------------------------
// Printing
// --------------------------------------------------------------------------

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Log Level", c.LogLevel)

	addSection("Connection Pool")
	addField("Connections", fmt.Sprintf("%d - %d", c.Pool.MinConnections, c.Pool.MaxConnections))
	addField("Idle Timeout", c.Pool.IdleTimeout.String())
	addField("Sweep Interval", c.Pool.SweepInterval.String())
	addField("Reuse Limit", strconv.Itoa(c.Pool.ReuseLimit))
	addField("Degraded Threshold", strconv.FormatFloat(c.Pool.DegradedThreshold, 'f', 2, 64))

	addSection("Connection")
	addField("Max Attempts", strconv.Itoa(c.Connection.MaxAttempts))
	addField("Connect Timeout", fmt.Sprintf("%s (max %s)", c.Connection.ConnectTimeout, c.Connection.MaxConnectTimeout))
	addField("Backoff", fmt.Sprintf("%s (max %s)", c.Connection.BackoffBase, c.Connection.MaxBackoff))
	addField("Keepalive", c.Connection.KeepaliveInterval.String())

	addSection("Cache")
	addField("Enabled", strconv.FormatBool(c.Cache.Enabled))
	addField("Max Size", strconv.Itoa(c.Cache.MaxSize))
	addField("TTL", c.Cache.TTL.String())
	addField("Methods", strings.Join(c.Cache.Methods, ", "))

	addSection("Batching")
	addField("Enabled", strconv.FormatBool(c.Batch.Enabled))
	addField("Max Size", strconv.Itoa(c.Batch.MaxSize))
	addField("Max Wait", c.Batch.MaxWait.String())

	addSection("Session")
	addField("Timeout", fmt.Sprintf("%s (max %s)", c.Session.BaseTimeout, c.Session.MaxTimeout))
	addField("Latency Window", strconv.Itoa(c.Session.LatencyWindow))
	addField("Max In Flight", strconv.Itoa(c.Session.MaxInFlight))
	addField("Queue Size", strconv.Itoa(c.Session.QueueSize))
	addField("Health Interval", c.Session.HealthInterval.String())
	addField("Flood Window", fmt.Sprintf("%s (> %d events)", c.Session.FloodWindow, c.Session.FloodThreshold))
	addField("Error Backoff", fmt.Sprintf("%s - %s", c.Session.BackoffMin, c.Session.BackoffMax))

	addSection("Crypto")
	addField("Enabled", strconv.FormatBool(c.Crypto.Enabled))
	addField("Backend", c.Crypto.Backend)
	addField("Workers", strconv.Itoa(c.Crypto.Workers))
	addField("Hash Cache Size", strconv.Itoa(c.Crypto.HashCacheSize))

	addSection("Transport")
	addField("Type", c.Transport.Type)
	addField("Serializer", c.Transport.Serializer)
	addField("Buffers (r/w)", fmt.Sprintf("%d KB / %d KB", c.Transport.ReadBufferSize/1024, c.Transport.WriteBufferSize/1024))
	addField("Max Frame Size", fmt.Sprintf("%d KB", c.Transport.MaxFrameSize/1024))
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))

	addSection("Metrics")
	addField("Enabled", strconv.FormatBool(c.Metrics.Enabled))
	addField("Performance Logging", strconv.FormatBool(c.Metrics.PerformanceLogging))
	addField("Report Interval", c.Metrics.ReportInterval.String())
	addField("Slow Threshold", c.Metrics.SlowThreshold.String())

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the mock endpoint
type ServerConfig struct {
	Endpoint  string
	Transport TransportConfig
	// Latency is added to every answer
	Latency time.Duration
	// WorkersPerConn bounds the concurrently handled requests of one connection
	WorkersPerConn int
	// CryptoKey enables the sealed envelope when set (hex encoded)
	CryptoKey string
	LogLevel  string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Mock Server")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport.Type)
	addField("Serializer", c.Transport.Serializer)
	addField("Latency", c.Latency.String())
	addField("Workers Per Conn", strconv.Itoa(c.WorkersPerConn))
	addField("Crypto", strconv.FormatBool(c.CryptoKey != ""))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	return sb.String()
}
