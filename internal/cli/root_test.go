package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/vietddude/narrator/internal/core/config"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		debug bool
		want  slog.Level
	}{
		{"", false, slog.LevelInfo},
		{"debug", false, slog.LevelDebug},
		{"WARN", false, slog.LevelWarn},
		{"error", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
		{"verbose", false, slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := logLevel(tt.name, tt.debug); got != tt.want {
			t.Errorf("logLevel(%q, %v) = %v, want %v", tt.name, tt.debug, got, tt.want)
		}
	}
}

func TestInitLogging_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	initLogging(config.LoggingConfig{Level: "warn", Format: "json"}, false)

	h := slog.Default().Handler()
	if _, ok := h.(*slog.JSONHandler); !ok {
		t.Fatalf("handler = %T, want *slog.JSONHandler", h)
	}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "serve": false, "keys": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
