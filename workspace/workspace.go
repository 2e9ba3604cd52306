// Package workspace provides file access sandboxed under one organization's
// root directory. It knows nothing about tasks or agents.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrPermissionDenied is returned for any path that resolves outside the root.
var ErrPermissionDenied = errors.New("permission denied: path escapes workspace")

// Entry describes one item returned by List.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Store performs read/write/list operations relative to a root directory.
// Writes to the same path are serialized.
type Store struct {
	root  string
	locks sync.Map // abs path -> *sync.Mutex
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("no workspace configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &Store{root: resolved}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Resolve maps a workspace-relative path to an absolute path inside the
// root. Absolute paths, parent traversal that leaves the root, and symlinks
// pointing outside the root all fail with ErrPermissionDenied. Offending
// paths are rejected, never clamped.
func (s *Store) Resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) || strings.HasPrefix(relPath, "/") || strings.HasPrefix(relPath, `\`) || filepath.VolumeName(relPath) != "" {
		return "", fmt.Errorf("%w: %s", ErrPermissionDenied, relPath)
	}
	joined := filepath.Join(s.root, relPath)
	if !s.contains(joined) {
		return "", fmt.Errorf("%w: %s", ErrPermissionDenied, relPath)
	}

	// Follow symlinks on the longest existing prefix so a link inside the
	// workspace cannot redirect access elsewhere.
	existing := joined
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", relPath, err)
	}
	final := filepath.Join(append([]string{resolved}, rest...)...)
	if !s.contains(final) {
		return "", fmt.Errorf("%w: %s", ErrPermissionDenied, relPath)
	}
	return final, nil
}

func (s *Store) contains(abs string) bool {
	return abs == s.root || strings.HasPrefix(abs, s.root+string(filepath.Separator))
}

// Read returns the content of a file. found is false when the file does
// not exist or is a directory.
func (s *Store) Read(relPath string) (content string, found bool, err error) {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.IsDir() {
		return "", false, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false, fmt.Errorf("read file: %w", err)
	}
	return string(data), true, nil
}

// Write stores content at relPath, creating parent directories as needed.
// With appendMode the content is appended instead of replacing the file.
func (s *Store) Write(relPath, content string, appendMode bool) error {
	abs, err := s.Resolve(relPath)
	if err != nil {
		return err
	}
	if abs == s.root {
		return fmt.Errorf("write %q: path is the workspace root", relPath)
	}

	mu := s.lockFor(abs)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(abs, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return f.Close()
}

// List returns the entries of a directory sorted by name. A missing
// directory yields an empty list.
func (s *Store) List(relPath string) ([]Entry, error) {
	if relPath == "" {
		relPath = "."
	}
	abs, err := s.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) lockFor(abs string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(abs, &sync.Mutex{})
	return v.(*sync.Mutex)
}
