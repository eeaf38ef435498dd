package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" debug ", slog.LevelDebug},

		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},

		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},

		{"error", slog.LevelError},

		{"trace", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewRespectsFormatOverride(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	if New() == nil {
		t.Fatal("New() returned nil")
	}

	t.Setenv("LOG_FORMAT", "text")
	if New() == nil {
		t.Fatal("New() returned nil")
	}
}

func TestSetDefault(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")

	logger := SetDefault()
	if logger == nil {
		t.Fatal("SetDefault() returned nil")
	}
	if slog.Default() != logger {
		t.Error("SetDefault() did not install the logger as slog default")
	}
}
