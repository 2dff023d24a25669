package chatbot

import (
	"errors"

	"AskRelay/internal/backend"
)

const (
	DefaultModel       = "llama3.1"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
)

// Failure kinds reported in logs and metrics
const (
	KindValidation  = "validation"
	KindUpstream    = "upstream"
	KindEmptyAnswer = "empty_answer"
	KindTransport   = "transport"
	KindInternal    = "internal"
)

// ErrorKind classifies an error returned by Ask or Reset
func ErrorKind(err error) string {
	var validation *ValidationError
	var upstream *backend.UpstreamError
	var empty *backend.EmptyAnswerError
	var transport *backend.TransportError

	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &upstream):
		return KindUpstream
	case errors.As(err, &empty):
		return KindEmptyAnswer
	case errors.As(err, &transport):
		return KindTransport
	default:
		return KindInternal
	}
}
