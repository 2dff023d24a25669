package server

import (
	"errors"
	"fmt"
	"net/http"

	"AskRelay/internal/backend"
	"AskRelay/internal/chatbot"
)

// errorBody is the JSON shape of every failed response
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// translate maps an error to its HTTP status and client-facing body
func (s *Server) translate(err error) (int, errorBody) {
	var validation *chatbot.ValidationError
	var upstream *backend.UpstreamError
	var empty *backend.EmptyAnswerError
	var transport *backend.TransportError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorBody{Error: validation.Message}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, errorBody{
			Error:   "inference backend returned an error",
			Details: backend.Truncate(upstream.Details),
		}
	case errors.As(err, &empty):
		return http.StatusBadGateway, errorBody{
			Error:   "empty answer from model",
			Details: backend.Truncate(empty.Details),
		}
	case errors.As(err, &transport):
		return http.StatusBadGateway, errorBody{
			Error:   "inference backend unreachable",
			Details: backend.Truncate(transport.Err.Error()),
			Hint:    s.hint,
		}
	default:
		return http.StatusInternalServerError, errorBody{
			Error:   "internal server error",
			Details: backend.Truncate(err.Error()),
			Hint:    s.hint,
		}
	}
}

func backendHint(ollamaURL string) string {
	return fmt.Sprintf("check that Ollama is running at %s and the model has been pulled", ollamaURL)
}
