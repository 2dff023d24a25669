package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"AskRelay/internal/config"
	"AskRelay/internal/telemetry"
)

func TestServeFlagsOverrideConfig(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--listen", ":4000", "--journal", "j.db", "--debug"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	flags := serveFlags{}
	flags.listenAddr, _ = cmd.Flags().GetString("listen")
	flags.journal, _ = cmd.Flags().GetString("journal")
	flags.debug, _ = cmd.Flags().GetBool("debug")

	cfg := config.Default()
	flags.apply(cmd, &cfg)

	if cfg.ListenAddr != ":4000" || cfg.JournalPath != "j.db" || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.OllamaURL != config.Default().OllamaURL {
		t.Fatalf("unset flag changed ollama url to %q", cfg.OllamaURL)
	}
}

func TestNewAppServesAndJournals(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"role":"assistant","content":"4"},"done":true}`)
	}))
	defer ollama.Close()

	cfg := config.Default()
	cfg.OllamaURL = ollama.URL
	cfg.JournalPath = filepath.Join(t.TempDir(), "journal.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(cfg, logger, telemetry.Noop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	relay := httptest.NewServer(a.handler)
	defer relay.Close()

	resp, err := http.Post(relay.URL+"/api/ask", "application/json", strings.NewReader(`{"question":"2+2?","sessionId":"s1"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["answer"] != "4" {
		t.Fatalf("unexpected response %d: %v", resp.StatusCode, body)
	}

	exchanges, err := a.journal.Recent(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(exchanges) != 1 || exchanges[0].Answer != "4" {
		t.Fatalf("expected journaled exchange, got %+v", exchanges)
	}
}

func TestNewAppRejectsBadBackendURL(t *testing.T) {
	cfg := config.Default()
	cfg.OllamaURL = "not a url"

	if _, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.Noop()); err == nil {
		t.Fatal("expected error for invalid backend url")
	}
}
