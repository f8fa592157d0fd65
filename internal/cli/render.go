package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Anko59/AutoHubble/internal/agent"
	"github.com/Anko59/AutoHubble/internal/rpc"
)

// renderEvent prints one session event. It returns an error only for the
// terminal event of a failed remote session.
func renderEvent(w io.Writer, evt rpc.SessionEvent) error {
	switch evt.Type {
	case "phase":
		if evt.Message != "" {
			fmt.Fprintf(w, "[%s] %s\n", evt.Stage, evt.Message)
		} else {
			fmt.Fprintf(w, "[%s]\n", evt.Stage)
		}
	case "attempt":
		fmt.Fprintf(w, "[attempt %d]\n", evt.Attempt)
	case "action":
		if evt.Action == nil {
			return nil
		}
		for _, fb := range evt.Action.Feedback {
			status := "ok"
			if !fb.Success {
				status = "fail"
			}
			fmt.Fprintf(w, "[action %s] %s\n", status, fb.Message)
		}
		if evt.Action.Action.IsFinal {
			fmt.Fprintln(w, "[action] marked final")
		}
	case "test":
		if evt.Test == nil {
			return nil
		}
		status := "fail"
		if evt.Test.Success {
			status = "ok"
		}
		fmt.Fprintf(w, "[test %s items=%d]\n", status, evt.Test.ItemsScraped)
		if rec := strings.TrimSpace(evt.Test.Recommendations); rec != "" {
			fmt.Fprintln(w, rec)
		}
	case "done":
		if evt.Report != nil {
			printReport(w, evt.Report)
		} else if evt.Message != "" {
			fmt.Fprintf(w, "[done] %s\n", evt.Message)
		}
	case "error":
		fmt.Fprintf(w, "[error] %s\n", evt.Error)
	case rpc.EventEnd:
		if evt.Items > 0 || evt.LogsDir != "" {
			fmt.Fprintf(w, "[run] items=%d logs=%s\n", evt.Items, evt.LogsDir)
		}
		if evt.Error != "" {
			return fmt.Errorf("session %s failed: %s", evt.SessionID, evt.Error)
		}
		if evt.Report != nil && !evt.Report.Success {
			return fmt.Errorf("spider generation failed after %d attempts", evt.Report.Attempts)
		}
		fmt.Fprintln(w, "[end]")
	}
	return nil
}

func printReport(w io.Writer, r *agent.Report) {
	status := "failed"
	if r.Success {
		status = "succeeded"
	}
	fmt.Fprintf(w, "[done] spider %q %s after %d attempt(s) in %s\n", r.SpiderName, status, r.Attempts, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  project: %s\n  entry:   %s\n", r.ProjectDir, r.EntryPoint)
	if r.Result != nil {
		fmt.Fprintf(w, "  items:   %d\n", r.Result.ItemsScraped)
	}
	if !r.Success && strings.TrimSpace(r.Recommendations) != "" {
		fmt.Fprintf(w, "  latest recommendations:\n%s\n", r.Recommendations)
	}
}
