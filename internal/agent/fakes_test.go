package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Anko59/AutoHubble/internal/browser"
	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/llm"
	"github.com/Anko59/AutoHubble/internal/runner"
	"github.com/Anko59/AutoHubble/internal/simplify"
	"github.com/Anko59/AutoHubble/internal/workspace"
)

// fakeLLM answers per role. A handler returns a value that is marshalled as
// the completion, or an error.
type fakeLLM struct {
	mu       sync.Mutex
	handlers map[llm.AgentRole]func(n int, req llm.Request) (any, error)
	requests map[llm.AgentRole][]llm.Request
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		handlers: make(map[llm.AgentRole]func(int, llm.Request) (any, error)),
		requests: make(map[llm.AgentRole][]llm.Request),
	}
}

func (f *fakeLLM) on(role llm.AgentRole, fn func(n int, req llm.Request) (any, error)) *fakeLLM {
	f.handlers[role] = fn
	return f
}

func (f *fakeLLM) always(role llm.AgentRole, v any) *fakeLLM {
	return f.on(role, func(int, llm.Request) (any, error) { return v, nil })
}

func (f *fakeLLM) calls(role llm.AgentRole) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests[role]...)
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests[req.Role] = append(f.requests[req.Role], req)
	n := len(f.requests[req.Role])
	h := f.handlers[req.Role]
	f.mu.Unlock()

	if h == nil {
		return nil, &llm.ExhaustedError{Role: req.Role, Last: errors.New("no handler")}
	}
	v, err := h(n, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

type fakeLoader struct {
	mu      sync.Mutex
	pages   map[string]*browser.Page
	loaded  []string
	started int
	quit    int
}

func (l *fakeLoader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
	return nil
}

func (l *fakeLoader) Load(ctx context.Context, url string) (*browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = append(l.loaded, url)
	p, ok := l.pages[url]
	if !ok {
		return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	return p, nil
}

func (l *fakeLoader) Quit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quit++
	return nil
}

func (l *fakeLoader) factory() LoaderFactory {
	return func() (browser.Loader, error) { return l, nil }
}

type fakeRunner struct {
	mu      sync.Mutex
	results []runner.RunResult
	err     error
	specs   []runner.RunSpec
}

func (r *fakeRunner) Run(ctx context.Context, spec runner.RunSpec) (runner.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	if r.err != nil {
		return runner.RunResult{}, r.err
	}
	res := r.results[len(r.results)-1]
	if len(r.specs) <= len(r.results) {
		res = r.results[len(r.specs)-1]
	}
	if res.Spider == "" {
		res.Spider = spec.Spider
	}
	return res, nil
}

func (r *fakeRunner) runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

func testWorkspace(t *testing.T) *workspace.Manager {
	t.Helper()
	root := t.TempDir()
	return workspace.NewManager(config.WorkspaceConfig{
		OutputDir: filepath.Join(root, "output"),
		LogsDir:   filepath.Join(root, "output", "logs"),
	}, nil)
}

func testDeps(t *testing.T, c llm.Completer, r SpiderRunner, loader *fakeLoader) Deps {
	t.Helper()
	if loader == nil {
		loader = &fakeLoader{}
	}
	return Deps{
		LLM:        c,
		NewLoader:  loader.factory(),
		Simplifier: simplify.New(),
		Workspace:  testWorkspace(t),
		Runner:     r,
	}
}
