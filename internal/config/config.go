// Package config loads service settings from command line flags and
// SIPRING_-prefixed environment variables, with optional .env support.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	// HTTP server settings
	Port     int
	BindAddr string

	// Data storage
	DataDir string

	// External URL for generated ring/cancel links (reverse proxy setups)
	BaseURL string

	// SIPHost is the host advertised in SIP headers when the service
	// sits behind NAT or a proxy; empty means auto-detect per target.
	SIPHost string

	// Optional HTTP basic auth; enabled when both are set
	Username string
	Password string

	// Defaults applied to new ring configurations
	DefaultSIPPort      int
	DefaultLocalPort    int
	DefaultRingDuration int

	// Event retention in days; 0 keeps events forever
	EventRetentionDays int

	LogLevel string
}

// Load loads configuration from a .env file (if present), command line
// flags and environment variables. Environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DefaultSIPPort:      5060,
		DefaultLocalPort:    5062,
		DefaultRingDuration: 30,
	}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "HTTP bind address")
	flag.StringVar(&cfg.DataDir, "data", "/data", "Data directory for config and event files")
	flag.StringVar(&cfg.SIPHost, "siphost", "", "Host to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.IntVar(&cfg.EventRetentionDays, "retention", 90, "Days to keep ring events (0 = forever)")
	flag.Parse()

	if port := os.Getenv("SIPRING_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("SIPRING_BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if dataDir := os.Getenv("SIPRING_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if baseURL := os.Getenv("SIPRING_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if sipHost := os.Getenv("SIPRING_SIP_HOST"); sipHost != "" {
		cfg.SIPHost = sipHost
	}
	if username := os.Getenv("SIPRING_USERNAME"); username != "" {
		cfg.Username = username
	}
	if password := os.Getenv("SIPRING_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if port := os.Getenv("SIPRING_DEFAULT_SIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DefaultSIPPort = p
		}
	}
	if port := os.Getenv("SIPRING_DEFAULT_LOCAL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DefaultLocalPort = p
		}
	}
	if duration := os.Getenv("SIPRING_DEFAULT_RING_DURATION"); duration != "" {
		if d, err := strconv.Atoi(duration); err == nil && d > 0 {
			cfg.DefaultRingDuration = d
		}
	}
	if retention := os.Getenv("SIPRING_EVENT_RETENTION_DAYS"); retention != "" {
		if d, err := strconv.Atoi(retention); err == nil && d >= 0 {
			cfg.EventRetentionDays = d
		}
	}
	if loglevel := os.Getenv("SIPRING_LOG_LEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}

	return cfg
}

// ConfigFile is the path of the ring configuration file.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "config.json")
}

// EventsFile is the path of the ring event log.
func (c *Config) EventsFile() string {
	return filepath.Join(c.DataDir, "events.jsonl")
}

// AuthEnabled reports whether HTTP basic auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}
