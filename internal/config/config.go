package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Relay   RelayConfig   `mapstructure:"relay"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// API rate limiting (streaming endpoints are exempt)
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type RelayConfig struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	Scan      ScanConfig      `mapstructure:"scan"`

	MaxSessions int `mapstructure:"max_sessions"`
}

type UpstreamConfig struct {
	DefaultPort    int           `mapstructure:"default_port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"` // stall detection
	UserAgent      string        `mapstructure:"user_agent"`
}

type BufferConfig struct {
	// Tier selects the byte capacity: small, medium, large or xxl.
	Tier string `mapstructure:"tier"`
	// ExpectedFrameSize derives the frame-count cap from the byte capacity.
	ExpectedFrameSize int `mapstructure:"expected_frame_size"`
}

type SmoothingConfig struct {
	// Profile is one of basic, enhanced, ultra or cinema.
	Profile string `mapstructure:"profile"`
	// TargetFPS seeds the interval predictor and sets the cinema cadence.
	TargetFPS float64 `mapstructure:"target_fps"`
}

type ScanConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"` // per candidate
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
}

// BufferTierBytes maps a tier name to its byte capacity.
var BufferTierBytes = map[string]int{
	"small":  16384,
	"medium": 32768,
	"large":  65536,
	"xxl":    131072,
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(configPath)

	// Environment variable override
	viper.SetEnvPrefix("STEADY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "0s") // streaming responses must not be cut off
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.debug_endpoints", false)
	viper.SetDefault("server.rate_limit_per_second", 10.0)
	viper.SetDefault("server.rate_limit_burst", 20)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Relay defaults
	viper.SetDefault("relay.max_sessions", 10)

	// Upstream defaults (DroidCam-style camera apps listen on 4747)
	viper.SetDefault("relay.upstream.default_port", 4747)
	viper.SetDefault("relay.upstream.connect_timeout", "5s")
	viper.SetDefault("relay.upstream.read_timeout", "10s")
	viper.SetDefault("relay.upstream.user_agent", "Steady/1.0")

	// Buffer defaults
	viper.SetDefault("relay.buffer.tier", "large")
	viper.SetDefault("relay.buffer.expected_frame_size", 16384)

	// Smoothing defaults
	viper.SetDefault("relay.smoothing.profile", "ultra")
	viper.SetDefault("relay.smoothing.target_fps", 24.0)

	// Scan defaults
	viper.SetDefault("relay.scan.timeout", "3s")
	viper.SetDefault("relay.scan.rate_per_second", 5.0)
	viper.SetDefault("relay.scan.burst", 10)
}
