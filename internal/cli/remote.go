package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/Anko59/AutoHubble/internal/rpc"
	"github.com/Anko59/AutoHubble/internal/rpc/connectjson"
	"github.com/Anko59/AutoHubble/internal/rpc/session"
)

// NewRemoteCmd streams a generation session from the daemon.
func NewRemoteCmd(opts *Options) *cobra.Command {
	var fields map[string]string
	var baseURL string
	var maxAttempts int
	var runAfter bool
	var addr string
	var transport string

	cmd := &cobra.Command{
		Use:   "remote <start-url>",
		Short: "Generate a spider on the daemon and stream its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(fields) == 0 {
				return errors.New("at least one --field name=description is required")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if transport == "" {
				transport = cfg.Server.Transport
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			sessionID := uuid.NewString()
			reqBody := rpc.GenerateRequest{
				SessionID:     sessionID,
				CorrelationID: sessionID + "-cli",
				StartURL:      args[0],
				BaseURL:       baseURL,
				TargetFields:  fields,
				MaxAttempts:   maxAttempts,
				Run:           runAfter,
			}

			base := daemonURL(addr)
			switch strings.ToLower(strings.TrimSpace(transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd.OutOrStdout(), base+session.GeneratePath, reqBody)
			default:
				return runConnect(ctx, cmd.OutOrStdout(), base+session.ConnectGenerateProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringToStringVarP(&fields, "field", "f", nil, "Target field as name=description (repeatable)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Site base URL (default: origin of the start URL)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Lower the daemon's generator.max_attempts for this session")
	cmd.Flags().BoolVar(&runAfter, "run", false, "Run the spider once after a successful generation")
	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: server.addr)")
	cmd.Flags().StringVar(&transport, "transport", "", "connect or ndjson (default: server.transport)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, out io.Writer, url string, reqBody rpc.GenerateRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var evt rpc.SessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(out, evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runConnect(ctx context.Context, out io.Writer, url string, reqBody rpc.GenerateRequest) error {
	client := connect.NewClient[rpc.GenerateStreamRequest, rpc.SessionEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.GenerateStreamRequest{Generate: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Send(&rpc.GenerateStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
			_ = stream.CloseRequest()
		case <-done:
		}
	}()

	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := renderEvent(out, *evt); err != nil {
			return err
		}
	}
	_ = stream.CloseRequest()
	return stream.CloseResponse()
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
