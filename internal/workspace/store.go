package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrConflict indicates a workspace already exists for the project.
	ErrConflict = errors.New("workspace: already exists")
	// ErrNotFound indicates the workspace or a path within it is absent.
	ErrNotFound = errors.New("workspace: not found")
	// ErrInvalidPath indicates a path that is malformed or resolves
	// outside the project root.
	ErrInvalidPath = errors.New("workspace: invalid path")
)

// File seeds one entry of a fresh workspace.
type File struct {
	Path        string
	Content     []byte
	IsDirectory bool
}

// Node describes one entry of a workspace tree listing.
type Node struct {
	Path        string
	IsDirectory bool
	Size        int64
}

// Store owns per-project workspace directories under a common root.
type Store struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Path returns the absolute root directory for a project workspace.
func (s *Store) Path(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// Create allocates a fresh workspace seeded with template files.
func (s *Store) Create(projectID string, files []File) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := s.Path(projectID)
	if _, err := os.Stat(dir); err == nil {
		return "", ErrConflict
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	for _, f := range files {
		if f.IsDirectory {
			target, err := s.resolve(projectID, f.Path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("seed directory %s: %w", f.Path, err)
			}
			continue
		}
		if err := s.WriteFile(projectID, f.Path, f.Content); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ReadFile returns the content of a file within the workspace.
func (s *Store) ReadFile(projectID, path string) ([]byte, error) {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates or overwrites a file, creating parent directories
// as needed. Traversal attempts are rejected before anything touches
// the filesystem.
func (s *Store) WriteFile(projectID, path string, content []byte) error {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Mkdir creates a directory inside the workspace.
func (s *Store) Mkdir(projectID, path string) error {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// Delete removes a file or directory; directories are removed
// recursively.
func (s *Store) Delete(projectID, path string) error {
	target, err := s.resolve(projectID, path)
	if err != nil {
		return err
	}
	if target == s.Path(projectID) {
		return ErrInvalidPath
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// ListTree walks the workspace and returns sorted relative paths.
func (s *Store) ListTree(projectID string) ([]Node, error) {
	root := s.Path(projectID)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat workspace: %w", err)
	}
	var nodes []Node
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		node := Node{Path: filepath.ToSlash(rel), IsDirectory: d.IsDir()}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			node.Size = info.Size()
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// Destroy removes the entire workspace tree. Idempotent: a missing
// workspace is not an error.
func (s *Store) Destroy(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := s.Path(projectID)
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to destroy path outside workspace root")
	}
	return os.RemoveAll(dir)
}

// Exists reports whether the project has a workspace on disk.
func (s *Store) Exists(projectID string) bool {
	info, err := os.Stat(s.Path(projectID))
	return err == nil && info.IsDir()
}

// resolve joins a user-supplied relative path onto the project root and
// rejects anything escaping it. The path is rejected, never clamped.
func (s *Store) resolve(projectID, path string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	cleaned := strings.TrimSpace(path)
	if cleaned == "" || filepath.IsAbs(cleaned) || strings.Contains(cleaned, "\x00") {
		return "", ErrInvalidPath
	}
	root := s.Path(projectID)
	target := filepath.Join(root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return target, nil
}
