package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/rpc"
)

// ErrInvalidRequest marks a request rejected before any session starts.
var ErrInvalidRequest = errors.New("invalid request")

// Runner starts a generation session and yields streamed events. The channel
// is closed after the terminal end event.
type Runner interface {
	Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.SessionEvent, error)
}

// SessionRunner drives agent sessions for remote clients.
type SessionRunner struct {
	Deps   agent.Deps
	Limits agent.Limits
	Logger *zap.Logger
}

// Validate checks the fields a session cannot start without.
func Validate(req rpc.GenerateRequest) error {
	if strings.TrimSpace(req.StartURL) == "" {
		return fmt.Errorf("%w: start_url is required", ErrInvalidRequest)
	}
	if len(req.TargetFields) == 0 {
		return fmt.Errorf("%w: target_fields are required", ErrInvalidRequest)
	}
	if req.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Run validates req and runs the session on its own goroutine. Cancelling ctx
// stops the session at its next suspension point.
func (r *SessionRunner) Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.SessionEvent, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	logger := logging.OrNop(r.Logger)

	limits := r.Limits
	if limits.MaxAttempts == 0 {
		limits = agent.DefaultLimits()
	}
	if req.MaxAttempts > 0 && req.MaxAttempts < limits.MaxAttempts {
		limits.MaxAttempts = req.MaxAttempts
	}

	out := make(chan rpc.SessionEvent, 32)
	send := func(ev rpc.SessionEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	opts := []agent.SessionOption{
		agent.WithLimits(limits),
		agent.WithSessionID(req.SessionID),
		agent.WithObserver(func(ev agent.Event) {
			send(rpc.FromAgentEvent(ev, req.CorrelationID))
		}),
	}
	if req.BaseURL != "" {
		opts = append(opts, agent.WithBaseURL(req.BaseURL))
	}
	s := agent.NewSession(r.Deps, req.StartURL, req.TargetFields, opts...)

	go func() {
		defer close(out)
		end := rpc.SessionEvent{
			Type:          rpc.EventEnd,
			SessionID:     s.ID,
			CorrelationID: req.CorrelationID,
			Done:          true,
		}

		report, err := s.Generate(ctx)
		end.Report = report
		if err != nil {
			logger.Warn("session failed", zap.String("session_id", s.ID), zap.Error(err))
			end.Error = err.Error()
			send(end)
			return
		}

		if req.Run && report.Success {
			res := s.Run(ctx)
			end.Items = res.Result.Items
			end.LogsDir = res.LogsDir
			if res.Err != nil {
				end.Error = res.Err.Error()
			} else if !res.OK() {
				end.Error = fmt.Sprintf("spider exited with code %d", res.Result.ExitCode)
			}
		}
		send(end)
	}()
	return out, nil
}
