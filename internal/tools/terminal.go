package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long pipes stay open after the process is killed.
const DefaultWaitDelay = 5 * time.Second

// Terminal executes commands with allow/deny checks.
type Terminal struct {
	WorkingDir     string
	Allowed        []string
	Denied         []string
	Env            map[string]string // merged over the parent environment
	Timeout        time.Duration     // zero means no limit
	WaitDelay      time.Duration
	AllowExecution bool
}

// ExecResult carries output and status code.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Exec runs a command if allowed by configuration.
//
// Hitting Timeout is not an error: the process is killed, whatever it wrote so
// far is returned and TimedOut is set. A non-zero exit status is reported via
// ExitCode together with the *exec.ExitError. Cancellation of ctx returns ctx.Err().
func (t *Terminal) Exec(ctx context.Context, command string, args ...string) (ExecResult, error) {
	if !t.AllowExecution {
		return ExecResult{}, errors.New("execution disabled by configuration")
	}
	if command == "" {
		return ExecResult{}, fmt.Errorf("command is required")
	}
	if err := t.validateCommand(command); err != nil {
		return ExecResult{}, err
	}

	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	if t.WorkingDir != "" {
		cmd.Dir = t.WorkingDir
	}
	if len(t.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), t.Env)
	}
	cmd.WaitDelay = t.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: exitCode(err),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if runCtx.Err() != nil {
		res.TimedOut = true
		return res, nil
	}
	return res, err
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

func (t *Terminal) validateCommand(cmd string) error {
	lower := strings.ToLower(cmd)
	for _, deny := range t.Denied {
		if lower == strings.ToLower(deny) {
			return fmt.Errorf("command %q is denied", cmd)
		}
	}
	if len(t.Allowed) > 0 {
		for _, allow := range t.Allowed {
			if lower == strings.ToLower(allow) {
				return nil
			}
		}
		return fmt.Errorf("command %q is not in allowlist", cmd)
	}
	return nil
}
