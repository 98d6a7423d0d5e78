package logging

import (
	"testing"
	"time"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"", "json", "console", "JSON"} {
		t.Run(format, func(t *testing.T) {
			logger, err := New(Config{Level: "debug", Format: format})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !logger.Core().Enabled(-1) {
				t.Error("debug level not enabled")
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TEO_LOG_LEVEL", "warn")
	t.Setenv("TEO_LOG_FORMAT", "")

	cfg := FromEnv()
	if cfg.Level != "warn" {
		t.Errorf("Level = %q, want %q", cfg.Level, "warn")
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want %q", cfg.Format, "json")
	}
}

func TestDateField(t *testing.T) {
	f := Date(time.Date(2024, 7, 17, 0, 0, 0, 0, time.UTC))
	if f.String != "20240717" {
		t.Errorf("Date field = %q, want %q", f.String, "20240717")
	}
}
