package workspace

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCreateSeedsTemplateFiles(t *testing.T) {
	store := newTestStore(t)

	files := []File{
		{Path: "main.py", Content: []byte("print('hello')\n")},
		{Path: "static", IsDirectory: true},
		{Path: "app/routes.py", Content: []byte("routes = []\n")},
	}
	root, err := store.Create("proj-1", files)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if root != store.Path("proj-1") {
		t.Fatalf("unexpected root %q", root)
	}

	data, err := store.ReadFile("proj-1", "app/routes.py")
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	if string(data) != "routes = []\n" {
		t.Fatalf("unexpected content %q", data)
	}
	info, err := os.Stat(filepath.Join(root, "static"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected seeded directory, err=%v", err)
	}
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create("proj-1", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.WriteFile("proj-1", "a.txt", []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := store.ReadFile("proj-1", "a.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("round trip mismatch: %q", data)
	}
}

func TestWriteCreatesParentDirectories(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.WriteFile("proj-1", "deep/nested/dir/file.txt", []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.ReadFile("proj-1", "deep/nested/dir/file.txt"); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestTraversalRejectedAndWorkspaceUnmodified(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, path := range []string{"../etc/passwd", "../../escape", "/etc/passwd", "a/../../b"} {
		if err := store.WriteFile("proj-1", path, []byte("nope")); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath, got %v", path, err)
		}
		if _, err := store.ReadFile("proj-1", path); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("path %q: expected ErrInvalidPath on read, got %v", path, err)
		}
	}

	nodes, err := store.ListTree("proj-1")
	if err != nil {
		t.Fatalf("list tree: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected untouched workspace, got %d nodes", len(nodes))
	}
}

func TestDeleteDirectoryIsRecursive(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WriteFile("proj-1", "src/a.txt", []byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteFile("proj-1", "src/sub/b.txt", []byte("b")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := store.Delete("proj-1", "src"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.ReadFile("proj-1", "src/sub/b.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after recursive delete, got %v", err)
	}
}

func TestDeleteMissingPathIsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete("proj-1", "ghost.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Destroy("proj-1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if store.Exists("proj-1") {
		t.Fatal("workspace still present after destroy")
	}
	if err := store.Destroy("proj-1"); err != nil {
		t.Fatalf("second destroy should be a no-op, got %v", err)
	}
}

func TestExportArchiveRoundTrip(t *testing.T) {
	store := newTestStore(t)
	seed := map[string]string{
		"main.py":          "print('hi')\n",
		"app/__init__.py":  "",
		"app/handlers.py":  "def handle():\n    pass\n",
		"static/index.css": "body {}\n",
	}
	if _, err := store.Create("proj-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	for path, content := range seed {
		if err := store.WriteFile("proj-1", path, []byte(content)); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	var buf bytes.Buffer
	if err := store.ExportArchive("proj-1", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	extracted := make(map[string]string)
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", entry.Name, err)
		}
		extracted[entry.Name] = string(data)
	}
	if len(extracted) != len(seed) {
		t.Fatalf("expected %d files in archive, got %d", len(seed), len(extracted))
	}
	for path, content := range seed {
		if extracted[path] != content {
			t.Fatalf("archive content mismatch for %s: %q", path, extracted[path])
		}
	}
}

func TestExportArchiveMissingWorkspace(t *testing.T) {
	store := newTestStore(t)
	var buf bytes.Buffer
	if err := store.ExportArchive("ghost", &buf); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
