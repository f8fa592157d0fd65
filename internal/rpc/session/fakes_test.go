package session

import (
	"context"

	"github.com/Anko59/AutoHubble/internal/rpc"
)

// scriptedRunner replays a fixed list of events for every request.
type scriptedRunner struct {
	events []rpc.SessionEvent
	got    chan rpc.GenerateRequest
}

func (r *scriptedRunner) Run(ctx context.Context, req rpc.GenerateRequest) (<-chan rpc.SessionEvent, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if r.got != nil {
		r.got <- req
	}
	out := make(chan rpc.SessionEvent, len(r.events)+1)
	go func() {
		defer close(out)
		for _, ev := range r.events {
			ev.SessionID = req.SessionID
			ev.CorrelationID = req.CorrelationID
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sampleEvents() []rpc.SessionEvent {
	return []rpc.SessionEvent{
		{Type: "phase", Stage: "analyzing", Message: "https://example.com"},
		{Type: "attempt", Attempt: 1},
		{Type: rpc.EventEnd, Done: true},
	}
}
