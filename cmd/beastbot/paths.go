package main

import (
	"fmt"
	"os"
	"path/filepath"

	"beastbot/pkg/protocol"
)

// Paths holds all resolved beastbot state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home       string // ~/.beastbot or BEASTBOT_HOME
	DBPath     string // beastbot.db or BEASTBOT_DB_PATH
	PIDPath    string // beastbot.pid or BEASTBOT_PID_PATH
	ConfigDir  string // config/ or BEASTBOT_CONFIG_DIR
	StatusPath string // status.json or BEASTBOT_STATUS_PATH
	LogPath    string // beastbot.log or BEASTBOT_LOG_PATH
}

// ResolvePaths returns all beastbot paths, respecting env var overrides.
// Environment variables:
//   - BEASTBOT_HOME: base directory for all state (default: ~/.beastbot)
//   - BEASTBOT_DB_PATH: progress database (default: $BEASTBOT_HOME/beastbot.db)
//   - BEASTBOT_PID_PATH: scheduler PID file (default: $BEASTBOT_HOME/beastbot.pid)
//   - BEASTBOT_CONFIG_DIR: YAML/TOML config (default: $BEASTBOT_HOME/config)
//   - BEASTBOT_STATUS_PATH: status snapshot (default: $BEASTBOT_HOME/status.json)
//   - BEASTBOT_LOG_PATH: scheduler log file (default: $BEASTBOT_HOME/beastbot.log)
//
// Specific env vars override both the default and the BEASTBOT_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:       home,
		DBPath:     resolvePathWithEnv("BEASTBOT_DB_PATH", home, "beastbot.db"),
		PIDPath:    resolvePathWithEnv("BEASTBOT_PID_PATH", home, "beastbot.pid"),
		ConfigDir:  resolvePathWithEnv("BEASTBOT_CONFIG_DIR", home, "config"),
		StatusPath: resolvePathWithEnv("BEASTBOT_STATUS_PATH", home, "status.json"),
		LogPath:    resolvePathWithEnv("BEASTBOT_LOG_PATH", home, "beastbot.log"),
	}, nil
}

// resolveHome returns BEASTBOT_HOME or ~/.beastbot.
func resolveHome() (string, error) {
	if v := os.Getenv("BEASTBOT_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}

// ensureHome creates the state directory with 0700 permissions.
func (p *Paths) ensureHome() error {
	if err := os.MkdirAll(p.Home, 0o700); err != nil {
		return fmt.Errorf("create state dir %s: %w", p.Home, err)
	}
	return nil
}
