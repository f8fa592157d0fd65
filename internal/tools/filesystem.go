package tools

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem provides safe file operations rooted at a base directory.
type Filesystem struct {
	guard      *PathGuard
	allowWrite bool
}

// FileContent is a file read by Collect, keyed by its slash-separated relative path.
type FileContent struct {
	Path    string
	Content string
}

// NewFilesystem builds a filesystem tool with write permissions controlled by allowWrite.
func NewFilesystem(baseDir string, allowWrite bool) (*Filesystem, error) {
	guard, err := NewPathGuard(baseDir)
	if err != nil {
		return nil, err
	}
	return &Filesystem{guard: guard, allowWrite: allowWrite}, nil
}

// Root returns the absolute base directory.
func (f *Filesystem) Root() string {
	return f.guard.BaseDir
}

// Resolve exposes the guard for callers that need the absolute path.
func (f *Filesystem) Resolve(p string) (string, error) {
	return f.guard.Resolve(p)
}

// ReadFile returns file contents as string.
func (f *Filesystem) ReadFile(p string) (string, error) {
	resolved, err := f.guard.Resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Exists reports whether p names an existing regular file or directory.
func (f *Filesystem) Exists(p string) (bool, error) {
	resolved, err := f.guard.Resolve(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(resolved)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// WriteFile writes content to a file, creating parent directories.
func (f *Filesystem) WriteFile(p string, content string) error {
	resolved, err := f.writable(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// AppendFile appends content to an existing file.
func (f *Filesystem) AppendFile(p string, content string) error {
	resolved, err := f.writable(p)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(resolved, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Remove deletes a single file.
func (f *Filesystem) Remove(p string) error {
	resolved, err := f.writable(p)
	if err != nil {
		return err
	}
	if resolved == f.guard.BaseDir {
		return fmt.Errorf("refusing to remove base directory")
	}
	return os.Remove(resolved)
}

// Rename moves oldPath to newPath, both inside the guard.
func (f *Filesystem) Rename(oldPath, newPath string) error {
	from, err := f.writable(oldPath)
	if err != nil {
		return err
	}
	to, err := f.writable(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

// Collect reads every file under root whose extension is in exts, sorted by path.
// Hidden and cache directories are skipped.
func (f *Filesystem) Collect(root string, exts ...string) ([]FileContent, error) {
	resolved, err := f.guard.Resolve(root)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = struct{}{}
	}

	var out []FileContent
	err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != resolved && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := want[strings.ToLower(filepath.Ext(p))]; !ok && len(want) > 0 {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(resolved, p)
		if err != nil {
			return err
		}
		out = append(out, FileContent{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CopyFS copies the tree rooted at src inside fsys into dest, overwriting files.
func (f *Filesystem) CopyFS(fsys fs.FS, src, dest string) error {
	target, err := f.writable(dest)
	if err != nil {
		return err
	}
	return fs.WalkDir(fsys, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, src), "/")
		out := filepath.Join(target, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		data, err := fs.ReadFile(fsys, path.Clean(p))
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	})
}

func (f *Filesystem) writable(p string) (string, error) {
	if !f.allowWrite {
		return "", errors.New("write is disabled by configuration")
	}
	return f.guard.Resolve(p)
}

func skipDir(name string) bool {
	switch strings.ToLower(name) {
	case ".git", "__pycache__", ".scrapy", ".idea", ".vscode", ".cache":
		return true
	default:
		return false
	}
}
