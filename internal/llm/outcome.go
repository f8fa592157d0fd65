package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
)

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeRetry
	outcomeFatal
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	default:
		return "fatal"
	}
}

// outcome is the result of one attempt against one model.
type outcome struct {
	kind  outcomeKind
	value json.RawMessage
	err   error
}

func succeeded(v json.RawMessage) outcome { return outcome{kind: outcomeOK, value: v} }
func retryable(err error) outcome         { return outcome{kind: outcomeRetry, err: err} }
func fatal(err error) outcome             { return outcome{kind: outcomeFatal, err: err} }

// classify decides whether an attempt error is worth repeating on the same
// model. Callers check their own context before classifying.
func classify(err error) outcome {
	var (
		pe *ProviderError
		de *DecodeError
		ve *ValidationError
		ne net.Error
	)
	switch {
	case errors.Is(err, ErrPromptTooLarge), errors.Is(err, ErrUnknownModel), errors.Is(err, ErrUnknownRole):
		return fatal(err)
	case errors.As(err, &pe):
		if pe.Transient() {
			return retryable(err)
		}
		return fatal(err)
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrEmptyResponse):
		return retryable(err)
	case errors.As(err, &de), errors.As(err, &ve):
		return retryable(err)
	case errors.As(err, &ne) && ne.Timeout():
		return retryable(err)
	}
	return fatal(err)
}
