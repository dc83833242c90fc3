// Package config loads beastbot's configuration directory: settings.toml for
// runtime tuning, game.yaml for buildings, research and lord requirements,
// and bonus.yaml for the weekly bonus schedule.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed defaults
var defaultFiles embed.FS

// Config is one consistent load of the configuration directory.
type Config struct {
	Dir      string
	Settings Settings
	Game     *Game
	Bonus    *Bonus
}

// Load reads every file in dir. game.yaml is required; the other two fall
// back to built-in defaults when absent.
func Load(dir string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	settings, err := LoadSettings(filepath.Join(dir, SettingsFile))
	if err != nil {
		return nil, err
	}
	game, err := LoadGame(filepath.Join(dir, GameFile), logger)
	if err != nil {
		return nil, err
	}
	b, err := LoadBonus(filepath.Join(dir, BonusFile), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "dir", dir, "game", game.Summary(), "bonus_windows", len(b.Windows))
	return &Config{Dir: dir, Settings: settings, Game: game, Bonus: b}, nil
}

// WriteDefaults copies the built-in configuration files into dir, skipping
// any that already exist. It returns the names written.
func WriteDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	var written []string
	for _, name := range []string{SettingsFile, GameFile, BonusFile} {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, fmt.Errorf("stat %s: %w", dst, err)
		}
		data, err := defaultFiles.ReadFile("defaults/" + name)
		if err != nil {
			return written, fmt.Errorf("read embedded %s: %w", name, err)
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return written, fmt.Errorf("write %s: %w", dst, err)
		}
		written = append(written, name)
	}
	return written, nil
}
