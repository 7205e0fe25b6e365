// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration, environment loading and a thread-safe store with
// reload propagation.

package control

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidConfig is wrapped by Validate failures.
var ErrInvalidConfig = errors.New("control: invalid config")

// DefaultHighWaterMark is the output backlog that triggers the high water
// mark callback.
const DefaultHighWaterMark = 64 * 1024 * 1024

// Config holds the server-side parameters.
type Config struct {
	ListenAddr     string        // TCP bind address, e.g. "0.0.0.0:9000"
	Name           string        // server name; empty means generated
	Threads        int           // worker loops; 0 serves everything on the accept loop
	HighWaterMark  int           // per-connection output backlog threshold in bytes
	PollTimeout    time.Duration // upper bound of one epoll wait
	ReusePort      bool          // SO_REUSEPORT on the listener
	TCPNoDelay     bool          // TCP_NODELAY on accepted connections
	KeepAlive      bool          // SO_KEEPALIVE on accepted connections
	CPUAffinity    []int         // worker i is pinned to CPUAffinity[i % len]
	MetricsEnabled bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "0.0.0.0:9000",
		Threads:        0,
		HighWaterMark:  DefaultHighWaterMark,
		PollTimeout:    50 * time.Millisecond,
		TCPNoDelay:     true,
		KeepAlive:      true,
		MetricsEnabled: true,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	case c.Threads < 0:
		return fmt.Errorf("%w: negative thread count %d", ErrInvalidConfig, c.Threads)
	case c.HighWaterMark <= 0:
		return fmt.Errorf("%w: high water mark must be positive", ErrInvalidConfig)
	case c.PollTimeout <= 0:
		return fmt.Errorf("%w: poll timeout must be positive", ErrInvalidConfig)
	}
	for _, cpu := range c.CPUAffinity {
		if cpu < 0 {
			return fmt.Errorf("%w: negative cpu %d", ErrInvalidConfig, cpu)
		}
	}
	return nil
}

// ConfigFromEnv overlays PREFIX_* environment variables on DefaultConfig:
// LISTEN_ADDR, NAME, THREADS, HIGH_WATER_MARK, POLL_TIMEOUT, REUSE_PORT,
// TCP_NODELAY, KEEPALIVE, CPU_AFFINITY (comma separated), METRICS.
func ConfigFromEnv(prefix string) (Config, error) {
	return configFromLookup(prefix, os.LookupEnv)
}

func configFromLookup(prefix string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(prefix + "_" + key)
		return strings.TrimSpace(v), ok
	}
	parseInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", prefix, key, err))
				return
			}
			*dst = n
		}
	}
	parseBool := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", prefix, key, err))
				return
			}
			*dst = b
		}
	}

	if v, ok := get("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get("NAME"); ok {
		cfg.Name = v
	}
	parseInt("THREADS", &cfg.Threads)
	parseInt("HIGH_WATER_MARK", &cfg.HighWaterMark)
	if v, ok := get("POLL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s_POLL_TIMEOUT: %w", prefix, err))
		} else {
			cfg.PollTimeout = d
		}
	}
	parseBool("REUSE_PORT", &cfg.ReusePort)
	parseBool("TCP_NODELAY", &cfg.TCPNoDelay)
	parseBool("KEEPALIVE", &cfg.KeepAlive)
	parseBool("METRICS", &cfg.MetricsEnabled)
	if v, ok := get("CPU_AFFINITY"); ok && v != "" {
		cfg.CPUAffinity = nil
		for _, f := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_CPU_AFFINITY: %w", prefix, err))
				break
			}
			cfg.CPUAffinity = append(cfg.CPUAffinity, n)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// ConfigStore keeps the current Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore initializes a store with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Snapshot returns a copy of the current config.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config.clone()
}

// Update applies fn to a copy of the config, validates it, stores it and
// calls every listener with the new snapshot. Listeners run on the caller's
// goroutine after the lock is released.
func (cs *ConfigStore) Update(fn func(*Config)) error {
	cs.mu.Lock()
	next := cs.config.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		cs.mu.Unlock()
		return err
	}
	cs.config = next
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, l := range listeners {
		l(next.clone())
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

func (c Config) clone() Config {
	c.CPUAffinity = append([]int(nil), c.CPUAffinity...)
	return c
}
