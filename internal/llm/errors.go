package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownRole    = errors.New("unknown role")
	ErrUnknownModel   = errors.New("unknown model")
	ErrPromptTooLarge = errors.New("system prompt exceeds model budget")
	ErrTimeout        = errors.New("request timed out")
	ErrEmptyResponse  = errors.New("empty response")
	ErrExhausted      = errors.New("all fallback models exhausted")
)

// ProviderError is a failed call to a backend. StatusCode is zero when no
// HTTP response was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the same request may succeed when repeated.
// Every upstream error qualifies except a rejected credential.
func (e *ProviderError) Transient() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return false
	}
	return true
}

// DecodeError means the reply could not be read as JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError means the reply parsed but does not match the schema.
type ValidationError struct {
	Schema  string
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("response does not match schema %s: %s", e.Schema, e.Details)
}

// ExhaustedError is returned once every model of a role failed.
type ExhaustedError struct {
	Role     AgentRole
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("role %s: all fallback models exhausted after %d attempts: %v", e.Role, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}
