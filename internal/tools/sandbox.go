package tools

import (
	"fmt"
	"time"

	"github.com/Anko59/AutoHubble/internal/config"
)

// Sandbox bundles the filesystem and terminal tools for one generated project.
type Sandbox struct {
	FS       *Filesystem
	Terminal *Terminal
}

// NewSandbox roots both tools at projectDir. Only the configured runner
// executable may be launched, and each run is cut off after timeout.
func NewSandbox(projectDir string, runnerCfg config.RunnerConfig, timeout time.Duration) (*Sandbox, error) {
	fsTool, err := NewFilesystem(projectDir, true)
	if err != nil {
		return nil, fmt.Errorf("build filesystem tool: %w", err)
	}
	if len(runnerCfg.Command) == 0 {
		return nil, fmt.Errorf("runner command is empty")
	}

	term := &Terminal{
		WorkingDir:     fsTool.Root(),
		Allowed:        dedupeStrings([]string{runnerCfg.Command[0]}),
		Env:            map[string]string{"PYTHONPATH": fsTool.Root()},
		Timeout:        timeout,
		AllowExecution: true,
	}

	return &Sandbox{
		FS:       fsTool,
		Terminal: term,
	}, nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
