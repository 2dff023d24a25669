package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"AskRelay/internal/backend"
	"AskRelay/internal/chatbot"
	"AskRelay/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxBodyBytes = 1 << 20

// ModelLister lists the models installed on the backend
type ModelLister interface {
	ListModels(ctx context.Context) ([]backend.OllamaModel, error)
}

// Config wires a Server
type Config struct {
	Bot       *chatbot.ChatBot
	Models    ModelLister // optional
	Logger    *slog.Logger
	OllamaURL string
	StaticDir string
}

// Server exposes the ChatBot over HTTP
type Server struct {
	bot       *chatbot.ChatBot
	models    ModelLister
	logger    *slog.Logger
	hint      string
	staticDir string
	upgrader  websocket.Upgrader
}

// New creates a Server
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bot:       cfg.Bot,
		models:    cfg.Models,
		logger:    logger,
		hint:      backendHint(cfg.OllamaURL),
		staticDir: cfg.StaticDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the routed handler with request logging and panic recovery
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
	return s.middleware(mux)
}

type ctxKey struct{}

// loggerFrom returns the request-scoped logger
func (s *Server) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := s.logger.With("request_id", requestID)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, logger))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				logger.Error("handler panic", "path", r.URL.Path, "panic", p)
				s.writeError(rec, r, fmt.Errorf("panic: %v", p))
			}
			logger.Info("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req chatbot.AskRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.bot.Ask(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.bot.Reset(r.Context(), req.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type historyResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []session.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	msgs, err := s.bot.History(sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

type modelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modifiedAt"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "model listing is not available"})
		return
	}

	models, err := s.models.ListModels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]modelInfo, len(models))
	for i, m := range models {
		out[i] = modelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt}
	}
	writeJSON(w, http.StatusOK, map[string][]modelInfo{"models": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": s.bot.SessionCount(),
	})
}

// decodeBody reads a JSON object into v. An empty body decodes to the zero
// value so that the orchestrator reports the missing fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &chatbot.ValidationError{Message: "request body too large"}
		}
		return &chatbot.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := s.translate(err)
	logger := s.loggerFrom(r.Context())

	switch {
	case status >= 500 && status != http.StatusBadGateway:
		logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	case status == http.StatusBadGateway:
		logger.Warn("backend failure", "path", r.URL.Path, "kind", chatbot.ErrorKind(err), "details", body.Details)
	default:
		logger.Info("rejected request", "path", r.URL.Path, "error", body.Error)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
