package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ExportArchive writes a zip archive of the workspace tree to w.
// Entries are emitted in deterministic path order.
func (s *Store) ExportArchive(projectID string, w io.Writer) error {
	root := s.Path(projectID)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat workspace: %w", err)
	}

	var files []string
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk workspace: %w", err)
	}
	sort.Strings(dirs)
	sort.Strings(files)

	zw := zip.NewWriter(w)
	for _, dir := range dirs {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		if _, err := zw.Create(filepath.ToSlash(rel) + "/"); err != nil {
			return fmt.Errorf("archive directory %s: %w", rel, err)
		}
	}
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("archive entry %s: %w", rel, err)
		}
		src, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		_, copyErr := io.Copy(entry, src)
		src.Close()
		if copyErr != nil {
			return fmt.Errorf("archive %s: %w", rel, copyErr)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
