// File: internal/logger/config.go
// Author: momentics <momentics@gmail.com>
//
// Environment driven logger configuration.
//
//	HIOLOAD_LOG_LEVEL=reactor=debug,server=warn,info
//	HIOLOAD_LOG_FORMAT=json

package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel  = "HIOLOAD_LOG_LEVEL"
	EnvFormat = "HIOLOAD_LOG_FORMAT"
)

// Config holds per-subsystem levels and the output format.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[string]slog.Level
	Format          Format
}

// LevelFor returns the configured level of subsystem.
func (c *Config) LevelFor(subsystem string) slog.Level {
	if lvl, ok := c.SubsystemLevels[subsystem]; ok {
		return lvl
	}
	return c.DefaultLevel
}

var (
	envConfig     *Config
	envConfigOnce sync.Once
)

// ConfigFromEnv parses the environment once and caches the result.
func ConfigFromEnv() *Config {
	envConfigOnce.Do(func() {
		envConfig = ParseConfig(os.Getenv(EnvLevel), os.Getenv(EnvFormat))
	})
	return envConfig
}

// ParseConfig builds a Config from a level spec ("sub=level,...,default")
// and a format name. Unknown entries are ignored.
func ParseConfig(levels, format string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
	}
	for _, part := range strings.Split(levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if sub, name, ok := strings.Cut(part, "="); ok {
			if lvl, ok := ParseLevel(name); ok {
				cfg.SubsystemLevels[strings.TrimSpace(sub)] = lvl
			}
			continue
		}
		if lvl, ok := ParseLevel(part); ok {
			cfg.DefaultLevel = lvl
		}
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg.Format = FormatJSON
	}
	return cfg
}

// ParseLevel maps debug/info/warn/error (any case) to a slog level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
