package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AskRelay/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Options are the generation parameters of a single forward call
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Forwarder sends a conversation to the inference backend and returns its answer
type Forwarder interface {
	Forward(ctx context.Context, messages []session.Message, opts Options) (string, error)
}

// ClientConfig configures an OllamaClient
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration // zero means no deadline beyond the caller's context
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// OllamaClient talks to the Ollama chat API
type OllamaClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// NewOllamaClient creates a client for the Ollama server at cfg.BaseURL
func NewOllamaClient(cfg ClientConfig) (*OllamaClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &OllamaClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("askrelay/backend")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("askrelay/backend")
	}

	c.duration, err = meter.Float64Histogram(
		"askrelay.backend.duration",
		metric.WithDescription("Ollama request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return c, nil
}

// Forward calls /api/chat with the full message sequence and returns the
// assistant content.
func (c *OllamaClient) Forward(ctx context.Context, messages []session.Message, opts Options) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama.chat",
		trace.WithAttributes(
			attribute.String("llm.model", opts.Model),
			attribute.Int("llm.messages", len(messages)),
		),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	answer, status, err := c.chat(ctx, messages, opts)
	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("http.status_code", status)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return answer, nil
}

func (c *OllamaClient) chat(ctx context.Context, messages []session.Message, opts Options) (string, int, error) {
	reqMessages := make([]OllamaMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = OllamaMessage{Role: msg.Role, Content: msg.Content}
	}

	reqBody := OllamaRequest{
		Model:    opts.Model,
		Messages: reqMessages,
		Stream:   false,
		Options: OllamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("ollama returned error status", "status", resp.StatusCode, "model", opts.Model)
		return "", resp.StatusCode, &UpstreamError{
			StatusCode: resp.StatusCode,
			Details:    Truncate(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)),
		}
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Message == nil || apiResp.Message.Content == "" {
		c.logger.Warn("ollama returned empty answer", "model", opts.Model)
		return "", resp.StatusCode, &EmptyAnswerError{Details: Truncate(string(bytes.TrimSpace(body)))}
	}

	return apiResp.Message.Content, resp.StatusCode, nil
}

// ListModels fetches the list of models installed on the Ollama server
func (c *OllamaClient) ListModels(ctx context.Context) ([]OllamaModel, error) {
	ctx, span := c.tracer.Start(ctx, "ollama.tags")
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Details:    Truncate(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)),
		}
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return tagsResp.Models, nil
}
