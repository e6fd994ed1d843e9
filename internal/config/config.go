package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for a Tango host.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	SignalAddr    string // WebRTC signaling listen address
	STUNServer    string
	InputDelay    int // local input delay in ticks, absorbs network jitter (spec.md §3)
	MaxQueueLen   int // inputqueue capacity
	ReplayDir     string
	LogLevel      string
	LogFormat     string // "text" or "json"
	MetricsAddr   string
	RevealSetup   bool
	DisableShadow bool // read and logged by cmd/tangod only; no match code path reads it, so the shadow runner always runs
}

const (
	defaultDataDir     = "./data"
	defaultSignalAddr  = ":28551"
	defaultSTUNServer  = "stun:stun.l.google.com:19302"
	defaultInputDelay  = 2
	defaultMaxQueueLen = 128
	defaultReplayDir   = "./replays"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultMetricsAddr = ":9090"

	// maxInputDelay bounds input-delay: beyond this, added latency
	// outweighs the jitter it absorbs.
	maxInputDelay = 10
)

// envPrefix is the prefix for all Tango environment variables.
const envPrefix = "TANGO_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("tango", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for match history database")
	fs.StringVar(&cfg.SignalAddr, "signal-addr", defaultSignalAddr, "listen address for WebRTC signaling")
	fs.StringVar(&cfg.STUNServer, "stun-server", defaultSTUNServer, "STUN server URL for NAT traversal")
	fs.IntVar(&cfg.InputDelay, "input-delay", defaultInputDelay, "local input delay in ticks")
	fs.IntVar(&cfg.MaxQueueLen, "max-queue-len", defaultMaxQueueLen, "maximum input queue length before a peer is considered too far behind")
	fs.StringVar(&cfg.ReplayDir, "replay-dir", defaultReplayDir, "directory to write .tangoreplay files into")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "listen address for the Prometheus /metrics endpoint")
	fs.BoolVar(&cfg.RevealSetup, "reveal-setup", false, "reveal save data to the peer during the handshake")
	fs.BoolVar(&cfg.DisableShadow, "disable-shadow", false, "request disabling the shadow runner (only logged; the shadow runner always runs)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":       envPrefix + "DATA_DIR",
		"signal-addr":    envPrefix + "SIGNAL_ADDR",
		"stun-server":    envPrefix + "STUN_SERVER",
		"input-delay":    envPrefix + "INPUT_DELAY",
		"max-queue-len":  envPrefix + "MAX_QUEUE_LEN",
		"replay-dir":     envPrefix + "REPLAY_DIR",
		"log-level":      envPrefix + "LOG_LEVEL",
		"log-format":     envPrefix + "LOG_FORMAT",
		"metrics-addr":   envPrefix + "METRICS_ADDR",
		"reveal-setup":   envPrefix + "REVEAL_SETUP",
		"disable-shadow": envPrefix + "DISABLE_SHADOW",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "signal-addr":
			cfg.SignalAddr = val
		case "stun-server":
			cfg.STUNServer = val
		case "input-delay":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.InputDelay = v
			}
		case "max-queue-len":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxQueueLen = v
			}
		case "replay-dir":
			cfg.ReplayDir = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "metrics-addr":
			cfg.MetricsAddr = val
		case "reveal-setup":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.RevealSetup = v
			}
		case "disable-shadow":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.DisableShadow = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.InputDelay < 0 || c.InputDelay > maxInputDelay {
		return fmt.Errorf("input-delay must be between 0 and %d, got %d", maxInputDelay, c.InputDelay)
	}
	if c.MaxQueueLen < 1 {
		return fmt.Errorf("max-queue-len must be at least 1, got %d", c.MaxQueueLen)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
