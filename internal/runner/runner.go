// Package runner executes generated spiders and collects what they produced.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/logging"
	"github.com/Anko59/AutoHubble/internal/scrape"
	"github.com/Anko59/AutoHubble/internal/tools"
)

// ErrNoSpiderName is returned when the entry file declares no spider name.
var ErrNoSpiderName = errors.New("could not determine spider name")

// Recorder receives run outcomes. *observability.Metrics implements it.
type Recorder interface {
	RecordSpiderRun(outcome string)
}

// RunSpec describes one spider execution.
type RunSpec struct {
	EntryPoint string        // spider file relative to WorkDir
	WorkDir    string        // Scrapy project root
	Spider     string        // resolved from EntryPoint when empty
	Timeout    time.Duration // zero means no limit
}

// RunResult is what a run left behind.
type RunResult struct {
	Spider        string        `json:"spider"`
	ExitedCleanly bool          `json:"exited_cleanly"`
	TimedOut      bool          `json:"timed_out"`
	ExitCode      int           `json:"exit_code"`
	Duration      time.Duration `json:"duration"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	Items         int           `json:"items"`
	ItemsFile     string        `json:"items_file"`
	Stats         Stats         `json:"stats"`
}

// SpiderRunner launches `scrapy crawl` inside a project sandbox.
type SpiderRunner struct {
	cfg      config.RunnerConfig
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a SpiderRunner.
type Option func(*SpiderRunner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *SpiderRunner) { r.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *SpiderRunner) { r.recorder = rec }
}

// New builds a runner for the configured command.
func New(cfg config.RunnerConfig, opts ...Option) *SpiderRunner {
	r := &SpiderRunner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// ResolveSpiderName reads the `name = "..."` declaration from the entry file.
func ResolveSpiderName(workDir, entryPoint string) (string, error) {
	fsTool, err := tools.NewFilesystem(workDir, false)
	if err != nil {
		return "", err
	}
	src, err := fsTool.ReadFile(entryPoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSpiderName, err)
	}
	name, ok := scrape.SpiderNameFromSource(src)
	if !ok {
		return "", fmt.Errorf("%w from %s", ErrNoSpiderName, entryPoint)
	}
	return name, nil
}

// Run executes the spider. Reaching the timeout is not an error: TimedOut is
// set and the partial output is returned. A non-zero exit status is reported
// in the result. Errors are returned only when the spider could not be
// started at all or ctx was cancelled.
func (r *SpiderRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	name := spec.Spider
	if name == "" {
		var err error
		name, err = ResolveSpiderName(spec.WorkDir, spec.EntryPoint)
		if err != nil {
			return RunResult{}, err
		}
	}

	sb, err := tools.NewSandbox(spec.WorkDir, r.cfg, spec.Timeout)
	if err != nil {
		r.record("error")
		return RunResult{Spider: name}, err
	}

	itemsFile := r.cfg.ItemsFile
	if itemsFile != "" {
		if exists, _ := sb.FS.Exists(itemsFile); exists {
			if err := sb.FS.Remove(itemsFile); err != nil {
				r.record("error")
				return RunResult{Spider: name}, fmt.Errorf("remove stale items: %w", err)
			}
		}
	}

	args := append(append([]string{}, r.cfg.Command[1:]...), name)
	if itemsFile != "" {
		args = append(args, "-O", itemsFile)
	}

	log := r.logger.Sugar()
	log.Infof("Running spider: %s %s", r.cfg.Command[0], strings.Join(args, " "))

	res, execErr := sb.Terminal.Exec(ctx, r.cfg.Command[0], args...)
	out := RunResult{
		Spider:        name,
		ExitedCleanly: execErr == nil && !res.TimedOut && res.ExitCode == 0,
		TimedOut:      res.TimedOut,
		ExitCode:      res.ExitCode,
		Duration:      res.Duration,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		Stats:         ParseStats(res.Stderr + "\n" + res.Stdout),
	}

	if ctx.Err() != nil {
		r.record("cancelled")
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if execErr != nil && !errors.As(execErr, &exitErr) {
		r.record("error")
		return out, fmt.Errorf("start spider %s: %w", name, execErr)
	}

	if itemsFile != "" {
		path, _ := sb.FS.Resolve(itemsFile)
		out.ItemsFile = path
		n, err := CountItems(path)
		if err != nil {
			log.Warnf("Error counting scraped items: %v", err)
		}
		out.Items = n
	}

	switch {
	case out.TimedOut:
		log.Infof("Spider %s stopped after the %s limit", name, spec.Timeout)
		r.record("timeout")
	case out.ExitedCleanly:
		r.record("ok")
	default:
		log.Warnf("Spider %s exited with status %d", name, out.ExitCode)
		r.record("failed")
	}
	log.Debugf("Spider %s produced %d items", name, out.Items)

	return out, nil
}

// CountItems counts non-empty lines of a JSON Lines feed. A missing file has no items.
func CountItems(path string) (int, error) {
	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n, scanner.Err()
}

func (r *SpiderRunner) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordSpiderRun(outcome)
	}
}
