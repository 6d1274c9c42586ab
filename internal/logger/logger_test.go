package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitEnablesConfiguredLevel(t *testing.T) {
	Init("debug", "json")

	if !L.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}

	Info("init smoke test", "key", "value")
}

func TestContextRoundTrip(t *testing.T) {
	Init("info", "text")

	custom := L.With("request_id", "r-1")
	ctx := WithContext(context.Background(), custom)

	if got := FromContext(ctx); got != custom {
		t.Fatal("expected the injected logger back from context")
	}
	if got := FromContext(context.Background()); got != L {
		t.Fatal("expected global logger for a bare context")
	}
}

func TestNamedTagsComponent(t *testing.T) {
	Init("info", "text")

	named := Named("migrate")
	if named == L {
		t.Fatal("expected a derived logger, not the global one")
	}
	if !named.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("named logger should keep the global level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
