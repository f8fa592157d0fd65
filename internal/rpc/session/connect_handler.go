package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/Anko59/AutoHubble/internal/observability"
	"github.com/Anko59/AutoHubble/internal/rpc"
	"github.com/Anko59/AutoHubble/internal/rpc/connectjson"
)

const ConnectGenerateProcedure = "/autohubble.v1.SessionService/Generate"

// NewConnectHandler builds a Connect bidi stream handler for Generate.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectGenerateHandler{runner: runner, metrics: metrics}
	return ConnectGenerateProcedure, connect.NewBidiStreamHandler(ConnectGenerateProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectGenerateHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectGenerateHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.GenerateStreamRequest, rpc.SessionEvent]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Generate == nil {
		h.metrics.RecordTransportError("connect", "missing_generate")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include generate payload"))
	}

	req := *first.Generate
	withDefaultIDs(&req)

	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		if errors.Is(runErr, ErrInvalidRequest) {
			h.metrics.RecordTransportError("connect", "invalid_request")
			return connect.NewError(connect.CodeInvalidArgument, runErr)
		}
		h.metrics.RecordTransportError("connect", "runner_error")
		return connect.NewError(connect.CodeInternal, runErr)
	}

	// Only an explicit cancel stops the session; a half-closed request side
	// keeps it running.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			return err
		}
	}
	return nil
}
