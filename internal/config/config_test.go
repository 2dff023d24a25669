package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askrelay.yaml")
	content := `
listen_addr: ":8080"
ollama_url: "http://ollama:11434"
backend_timeout: 30s
default_model: "mistral"
max_history_messages: 20
journal_path: "data/journal.db"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" || cfg.OllamaURL != "http://ollama:11434" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.BackendTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", cfg.BackendTimeout)
	}
	if cfg.DefaultModel != "mistral" || cfg.MaxHistoryMessages != 20 || cfg.JournalPath != "data/journal.db" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	// untouched keys keep their defaults
	if cfg.DefaultMaxTokens != 512 || cfg.DefaultTemperature != 0.7 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("listen_addr: [unterminated"), 0644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ASKRELAY_LISTEN_ADDR", ":9999")
	t.Setenv("ASKRELAY_DEFAULT_TEMPERATURE", "0.2")
	t.Setenv("ASKRELAY_MAX_HISTORY_MESSAGES", "0")
	t.Setenv("ASKRELAY_BACKEND_TIMEOUT", "5s")
	t.Setenv("ASKRELAY_TELEMETRY_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.DefaultTemperature != 0.2 || cfg.MaxHistoryMessages != 0 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.BackendTimeout != 5*time.Second || !cfg.TelemetryEnabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadEnvInvalidNumber(t *testing.T) {
	t.Setenv("ASKRELAY_DEFAULT_MAX_TOKENS", "lots")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric max tokens")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.OllamaURL = "localhost:11434"
	cfg.BackendTimeout = 0
	cfg.MaxHistoryMessages = -1
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ollama_url", "backend_timeout", "max_history_messages", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}
