// Package config loads the host's small environment-driven configuration:
// the browser discovery endpoint, the duplex transport listen address, and
// the log level. Two fixed ports and a log level don't warrant a flags/env
// framework; see DESIGN.md for why this stays a plain os.Getenv loader
// (standard library plus logrus's level parser) rather than pulling in
// pflag/viper.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DefaultBrowserPort is the browser's own CDP discovery/debug port.
const DefaultBrowserPort = 9222

// DefaultHostPort is the port the duplex transport listens on for clients.
const DefaultHostPort = 19222

// Config is the host process's runtime configuration.
type Config struct {
	BrowserEndpoint string // e.g. "http://localhost:9222"
	ListenAddr      string // e.g. "localhost:19222"
	LogLevel        logrus.Level
}

// FromEnv loads a Config from environment variables, falling back to the
// spec's fixed defaults:
//   - CDPHOST_BROWSER_PORT (default 9222)
//   - CDPHOST_LISTEN_PORT  (default 19222)
//   - CDPHOST_LOG_LEVEL    one of debug|info|warn|error (default info)
func FromEnv() (Config, error) {
	browserPort, err := intEnv("CDPHOST_BROWSER_PORT", DefaultBrowserPort)
	if err != nil {
		return Config{}, err
	}
	hostPort, err := intEnv("CDPHOST_LISTEN_PORT", DefaultHostPort)
	if err != nil {
		return Config{}, err
	}

	level := logrus.InfoLevel
	if raw := os.Getenv("CDPHOST_LOG_LEVEL"); raw != "" {
		level, err = logrus.ParseLevel(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CDPHOST_LOG_LEVEL: %w", err)
		}
	}

	return Config{
		BrowserEndpoint: fmt.Sprintf("http://localhost:%d", browserPort),
		ListenAddr:      fmt.Sprintf("localhost:%d", hostPort),
		LogLevel:        level,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}
