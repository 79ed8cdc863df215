package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout cannot be negative")
	}

	if s.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout cannot be negative")
	}

	if s.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate_limit_per_second must be positive")
	}

	if s.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	if l.MaxSize < 0 || l.MaxBackups < 0 || l.MaxAge < 0 {
		return fmt.Errorf("log rotation values cannot be negative")
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if m.Path == "" {
		return fmt.Errorf("metrics path is required")
	}

	return nil
}

func (r *RelayConfig) Validate() error {
	if r.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}

	if err := r.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	if err := r.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer: %w", err)
	}

	if err := r.Smoothing.Validate(); err != nil {
		return fmt.Errorf("smoothing: %w", err)
	}

	if err := r.Scan.Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	return nil
}

func (u *UpstreamConfig) Validate() error {
	if u.DefaultPort < 1 || u.DefaultPort > 65535 {
		return fmt.Errorf("invalid default port: %d", u.DefaultPort)
	}

	if u.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}

	if u.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	return nil
}

func (b *BufferConfig) Validate() error {
	if _, ok := BufferTierBytes[b.Tier]; !ok {
		return fmt.Errorf("invalid buffer tier: %s", b.Tier)
	}

	if b.ExpectedFrameSize <= 0 {
		return fmt.Errorf("expected_frame_size must be positive")
	}

	return nil
}

func (s *SmoothingConfig) Validate() error {
	switch s.Profile {
	case "basic", "enhanced", "ultra", "cinema":
	default:
		return fmt.Errorf("invalid smoothing profile: %s", s.Profile)
	}

	if s.TargetFPS <= 0 || s.TargetFPS > 240 {
		return fmt.Errorf("target_fps out of range: %f", s.TargetFPS)
	}

	return nil
}

func (s *ScanConfig) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if s.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive")
	}

	if s.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}

	return nil
}
