package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"parley/internal/infra/config"
)

func TestLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := Level(c.in); got != c.want {
			t.Errorf("Level(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")

	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello", "component", "test")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")

	log, closer, err := New(config.LoggerConfig{Level: "error", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("suppressed")
	log.Error("kept")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "suppressed") {
		t.Error("info record written at error level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("error record missing")
	}
}

func TestForTagsComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")

	log, closer, err := New(config.LoggerConfig{Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	For(log, "resolver").Info("tagged")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"component":"resolver"`) {
		t.Errorf("component attr missing: %s", data)
	}
}

func TestNewBadOutputPath(t *testing.T) {
	if _, _, err := New(config.LoggerConfig{Output: filepath.Join(t.TempDir(), "no", "such", "dir.log")}); err == nil {
		t.Fatal("expected error for unwritable output path")
	}
}
