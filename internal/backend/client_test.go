package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"AskRelay/internal/session"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) *OllamaClient {
	t.Helper()
	client, err := NewOllamaClient(ClientConfig{
		BaseURL: url,
		Timeout: timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewOllamaClient() error: %v", err)
	}
	return client
}

func TestOllamaClientForwardBuildsPayload(t *testing.T) {
	var gotPath string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":"4"},"done":true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	messages := []session.Message{
		session.NewMessage(session.RoleUser, "hi"),
		session.NewMessage(session.RoleAssistant, "hello"),
		session.NewMessage(session.RoleUser, "2+2?"),
	}

	answer, err := client.Forward(context.Background(), messages, Options{Model: "llama3.1", Temperature: 0.7, MaxTokens: 512})
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if answer != "4" {
		t.Fatalf("expected answer %q, got %q", "4", answer)
	}

	if gotPath != "/api/chat" {
		t.Fatalf("expected path /api/chat, got %q", gotPath)
	}
	if gotPayload["model"] != "llama3.1" {
		t.Fatalf("expected model llama3.1, got %v", gotPayload["model"])
	}
	if gotPayload["stream"] != false {
		t.Fatalf("expected stream=false, got %v", gotPayload["stream"])
	}

	options, ok := gotPayload["options"].(map[string]any)
	if !ok {
		t.Fatalf("expected options object, got %T", gotPayload["options"])
	}
	if options["temperature"] != 0.7 {
		t.Fatalf("expected temperature 0.7, got %v", options["temperature"])
	}
	if options["num_predict"] != float64(512) {
		t.Fatalf("expected num_predict 512, got %v", options["num_predict"])
	}

	sent, ok := gotPayload["messages"].([]any)
	if !ok || len(sent) != 3 {
		t.Fatalf("expected 3 messages, got %v", gotPayload["messages"])
	}
	last := sent[2].(map[string]any)
	if last["role"] != "user" || last["content"] != "2+2?" {
		t.Fatalf("unexpected last message: %v", last)
	}
	if _, hasTimestamp := last["timestamp"]; hasTimestamp {
		t.Fatal("timestamps must not be sent to the backend")
	}
}

func TestOllamaClientForwardUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, strings.Repeat("x", 5000))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Forward(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "q")}, Options{Model: "m"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", upstream.StatusCode)
	}
	if !strings.Contains(upstream.Details, "500") {
		t.Fatalf("expected details to mention 500, got %q", upstream.Details[:40])
	}
	if n := utf8.RuneCountInString(upstream.Details); n != MaxDetailLength {
		t.Fatalf("expected details truncated to %d chars, got %d", MaxDetailLength, n)
	}
}

func TestOllamaClientForwardEmptyAnswer(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing message", body: `{"model":"m","done":true}`},
		{name: "empty content", body: `{"model":"m","message":{"role":"assistant","content":""},"done":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, time.Second)
			_, err := client.Forward(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "q")}, Options{Model: "m"})

			var empty *EmptyAnswerError
			if !errors.As(err, &empty) {
				t.Fatalf("expected EmptyAnswerError, got %v", err)
			}
			if empty.Details != tt.body {
				t.Fatalf("expected details %q, got %q", tt.body, empty.Details)
			}
		})
	}
}

func TestOllamaClientForwardTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url, time.Second)
	_, err := client.Forward(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "q")}, Options{Model: "m"})

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestOllamaClientForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, server.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Forward(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "q")}, Options{Model: "m"})

	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("forward was not cut off by the timeout, took %v", elapsed)
	}
}

func TestOllamaClientForwardMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Forward(context.Background(), []session.Message{session.NewMessage(session.RoleUser, "q")}, Options{Model: "m"})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}

	var upstream *UpstreamError
	var empty *EmptyAnswerError
	var transport *TransportError
	if errors.As(err, &upstream) || errors.As(err, &empty) || errors.As(err, &transport) {
		t.Fatalf("malformed body should not be a classified backend error, got %T", err)
	}
}

func TestOllamaClientListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"llama3.1:latest","size":4920753328,"modified_at":"2024-08-01T10:00:00Z"}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.1:latest" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestNewOllamaClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"localhost:11434", "ftp://host", "://bad"} {
		if _, err := NewOllamaClient(ClientConfig{BaseURL: raw}); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("ж", MaxDetailLength+10)
	got := Truncate(s)
	if !utf8.ValidString(got) {
		t.Fatal("truncated string is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != MaxDetailLength {
		t.Fatalf("expected %d runes, got %d", MaxDetailLength, n)
	}
	if Truncate("short") != "short" {
		t.Fatal("short strings must be returned unchanged")
	}
}
