package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AskRelay/internal/backend"
	"AskRelay/internal/journal"
	"AskRelay/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AskRequest is a single question from a client. Optional fields left nil
// take the ChatBot defaults.
type AskRequest struct {
	Question    string   `json:"question"`
	SessionID   string   `json:"sessionId"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	KeepHistory *bool    `json:"keepHistory,omitempty"`
}

// AskResult is the answer returned to the client
type AskResult struct {
	Answer      string  `json:"answer"`
	UsedModel   string  `json:"usedModel"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
	HistorySize int     `json:"historySize"`
}

// ValidationError reports malformed client input
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ExchangeRecorder stores completed exchanges
type ExchangeRecorder interface {
	Record(ctx context.Context, ex journal.Exchange) error
}

// Defaults are applied to requests that omit generation options
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Config wires a ChatBot
type Config struct {
	Store     session.Store
	Forwarder backend.Forwarder
	Journal   ExchangeRecorder // optional
	Defaults  Defaults
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter
}

// ChatBot relays questions to the backend and keeps per-session history
type ChatBot struct {
	store     session.Store
	forwarder backend.Forwarder
	journal   ExchangeRecorder
	locker    *session.Locker
	defaults  Defaults
	logger    *slog.Logger
	tracer    trace.Tracer

	requests metric.Int64Counter
	failures metric.Int64Counter
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg Config) (*ChatBot, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if cfg.Forwarder == nil {
		return nil, fmt.Errorf("forwarder cannot be nil")
	}

	cb := &ChatBot{
		store:     cfg.Store,
		forwarder: cfg.Forwarder,
		journal:   cfg.Journal,
		locker:    session.NewLocker(),
		defaults:  cfg.Defaults,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}
	if cb.defaults == (Defaults{}) {
		cb.defaults = Defaults{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	}
	if cb.defaults.Model == "" {
		cb.defaults.Model = DefaultModel
	}
	if cb.logger == nil {
		cb.logger = slog.Default()
	}
	if cb.tracer == nil {
		cb.tracer = otel.Tracer("askrelay/chatbot")
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("askrelay/chatbot")
	}

	var err error
	cb.requests, err = meter.Int64Counter("askrelay.ask.requests",
		metric.WithDescription("Ask requests received"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	cb.failures, err = meter.Int64Counter("askrelay.ask.failures",
		metric.WithDescription("Ask requests that failed, by kind"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	return cb, nil
}

// Ask validates req, forwards the conversation and, when history is kept,
// records the new turn. The user message is committed to history only
// together with the assistant reply, so a failed forward leaves the
// session untouched.
func (cb *ChatBot) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	ctx, span := cb.tracer.Start(ctx, "chatbot.ask")
	defer span.End()

	cb.requests.Add(ctx, 1)

	result, err := cb.ask(ctx, req, span)
	if err != nil {
		kind := ErrorKind(err)
		cb.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		return AskResult{}, err
	}
	return result, nil
}

func (cb *ChatBot) ask(ctx context.Context, req AskRequest, span trace.Span) (AskResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return AskResult{}, &ValidationError{Message: "question required"}
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return AskResult{}, &ValidationError{Message: "sessionId required"}
	}

	opts := cb.options(req)
	keepHistory := req.KeepHistory == nil || *req.KeepHistory

	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("llm.model", opts.Model),
		attribute.Bool("session.keep_history", keepHistory),
	)

	question := session.NewMessage(session.RoleUser, req.Question)
	messages := []session.Message{question}

	if keepHistory {
		unlock := cb.locker.Lock(req.SessionID)
		defer unlock()
		messages = append(cb.store.GetOrCreate(req.SessionID), question)
	}

	start := time.Now()
	answer, err := cb.forwarder.Forward(ctx, messages, opts)
	if err != nil {
		cb.logger.Warn("forward failed",
			"session_id", req.SessionID,
			"model", opts.Model,
			"kind", ErrorKind(err),
			"error", err,
		)
		return AskResult{}, err
	}
	elapsed := time.Since(start)

	historySize := 0
	if keepHistory {
		historySize, err = cb.store.Append(req.SessionID, question, session.NewMessage(session.RoleAssistant, answer))
		if err != nil {
			return AskResult{}, fmt.Errorf("failed to update history: %w", err)
		}
	}

	cb.logger.Info("answered question",
		"session_id", req.SessionID,
		"model", opts.Model,
		"history_size", historySize,
		"duration_ms", elapsed.Milliseconds(),
	)

	cb.record(ctx, journal.Exchange{
		SessionID:   req.SessionID,
		Model:       opts.Model,
		Question:    req.Question,
		Answer:      answer,
		KeepHistory: keepHistory,
		HistorySize: historySize,
		Digest:      session.Digest(messages),
		Duration:    elapsed,
	})

	return AskResult{
		Answer:      answer,
		UsedModel:   opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		HistorySize: historySize,
	}, nil
}

// Reset drops the history of a session. Resetting an unknown session succeeds.
func (cb *ChatBot) Reset(ctx context.Context, sessionID string) error {
	_, span := cb.tracer.Start(ctx, "chatbot.reset")
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Message: "sessionId required"}
	}

	unlock := cb.locker.Lock(sessionID)
	defer unlock()
	cb.store.Clear(sessionID)

	cb.logger.Info("session reset", "session_id", sessionID)
	return nil
}

// History returns a copy of the session history without creating the session
func (cb *ChatBot) History(sessionID string) ([]session.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &ValidationError{Message: "sessionId required"}
	}
	msgs, ok := cb.store.Snapshot(sessionID)
	if !ok {
		return []session.Message{}, nil
	}
	return msgs, nil
}

// SessionCount returns the number of live sessions
func (cb *ChatBot) SessionCount() int {
	return cb.store.Count()
}

func (cb *ChatBot) options(req AskRequest) backend.Options {
	opts := backend.Options{
		Model:       cb.defaults.Model,
		Temperature: cb.defaults.Temperature,
		MaxTokens:   cb.defaults.MaxTokens,
	}
	if req.Model != "" {
		opts.Model = req.Model
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	return opts
}

// record writes to the journal without failing the request
func (cb *ChatBot) record(ctx context.Context, ex journal.Exchange) {
	if cb.journal == nil {
		return
	}
	if err := cb.journal.Record(ctx, ex); err != nil {
		cb.logger.Error("failed to journal exchange", "session_id", ex.SessionID, "error", err)
	}
}
