package logging_test

import (
	"bytes"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"beastbot/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit_WritesToBothSinks(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "beastbot.log")
	logger, closer, err := logging.Init(&buf, slog.LevelInfo, path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("task finished", "emulator", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for name, got := range map[string]string{"writer": buf.String(), "file": string(data)} {
		if !strings.Contains(got, "task finished") || !strings.Contains(got, "emulator=3") {
			t.Errorf("%s missing record: %q", name, got)
		}
		if strings.Contains(got, "hidden") {
			t.Errorf("%s contains a record below the level", name)
		}
	}
}

func TestInit_WithoutFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
	})

	var buf bytes.Buffer
	_, closer, err := logging.Init(&buf, slog.LevelWarn, "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	slog.Warn("disk almost full")
	if !strings.Contains(buf.String(), "disk almost full") {
		t.Errorf("default logger not replaced: %q", buf.String())
	}
	if err := closer.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
