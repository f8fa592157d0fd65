package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a relative path resolves outside the guarded root.
var ErrPathEscape = errors.New("path escapes base directory")

// PathGuard ensures operations stay within a base directory.
type PathGuard struct {
	BaseDir string
}

// NewPathGuard constructs a guard rooted at baseDir (defaults to current working directory).
func NewPathGuard(baseDir string) (*PathGuard, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	return &PathGuard{BaseDir: absBase}, nil
}

// Resolve validates and returns an absolute path inside BaseDir.
func (g *PathGuard) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute path %q is not allowed", p)
	}
	abs := filepath.Clean(filepath.Join(g.BaseDir, clean))

	if !strings.HasPrefix(abs, g.BaseDir+string(os.PathSeparator)) && abs != g.BaseDir {
		return "", fmt.Errorf("%q: %w", p, ErrPathEscape)
	}
	return abs, nil
}

// Rel returns abs relative to BaseDir using forward slashes.
func (g *PathGuard) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(g.BaseDir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
