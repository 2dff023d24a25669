package backend

import (
	"fmt"
	"unicode/utf8"
)

// MaxDetailLength bounds the diagnostic text carried by backend errors
const MaxDetailLength = 800

// UpstreamError means the backend answered with a non-success status
type UpstreamError struct {
	StatusCode int
	Details    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// EmptyAnswerError means the backend succeeded but produced no content
type EmptyAnswerError struct {
	Details string
}

func (e *EmptyAnswerError) Error() string {
	return "backend returned an empty answer"
}

// TransportError means the backend could not be reached
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Truncate cuts s to at most MaxDetailLength characters without splitting a rune.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxDetailLength {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxDetailLength {
			return s[:i]
		}
		n++
	}
	return s
}
