package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newLocal(t *testing.T) (*Local, string) {
	t.Helper()
	root := t.TempDir()
	backend, err := NewLocal(root)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend, root
}

func TestNewLocal(t *testing.T) {
	t.Run("ExistingDirectory", func(t *testing.T) {
		backend, root := newLocal(t)
		if backend.Root() != root {
			t.Errorf("expected root %q, got %q", root, backend.Root())
		}
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		if _, err := NewLocal(filepath.Join(t.TempDir(), "absent")); err == nil {
			t.Error("missing directory should be rejected")
		}
	})

	t.Run("NotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f.txt")
		os.WriteFile(file, []byte("x"), 0644)
		if _, err := NewLocal(file); err == nil {
			t.Error("plain file should be rejected")
		}
	})
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	backend, root := newLocal(t)

	t.Run("WriteCreatesParents", func(t *testing.T) {
		content := []byte("nested content\n")
		err := backend.Write(ctx, "a/b/c.txt", bytes.NewReader(content), int64(len(content)), nil)
		if err != nil {
			t.Fatalf("write failed: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(root, "a", "b", "c.txt"))
		if err != nil {
			t.Fatalf("read back failed: %v", err)
		}
		if !bytes.Equal(data, content) {
			t.Errorf("content mismatch: %q", data)
		}
	})

	t.Run("WriteSizeMismatch", func(t *testing.T) {
		err := backend.Write(ctx, "short.txt", bytes.NewReader([]byte("abc")), 10, nil)
		if err == nil {
			t.Error("short write should be reported")
		}
	})

	t.Run("WriteUnknownSize", func(t *testing.T) {
		err := backend.Write(ctx, "any.txt", bytes.NewReader([]byte("abc")), -1, nil)
		if err != nil {
			t.Errorf("negative size should skip the check: %v", err)
		}
	})

	t.Run("ReadFile", func(t *testing.T) {
		if err := backend.WriteFile(ctx, "r.txt", []byte("hello"), 0); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		data, err := backend.ReadFile(ctx, "r.txt")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("content mismatch: %q", data)
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		if _, err := backend.ReadFile(ctx, "missing.txt"); err == nil {
			t.Error("missing file should fail")
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	backend, _ := newLocal(t)

	backend.WriteFile(ctx, "top.txt", []byte("1"), 0)
	backend.WriteFile(ctx, "sub/inner.txt", []byte("22"), 0)

	files, err := backend.List(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var paths []string
	for _, f := range files {
		if !f.IsDir {
			paths = append(paths, f.RelativePath)
		}
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files, got %v", paths)
	}

	t.Run("Cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := backend.List(cancelled, ""); err == nil {
			t.Error("cancelled context should abort listing")
		}
	})
}

func TestRenameDeleteExists(t *testing.T) {
	ctx := context.Background()
	backend, _ := newLocal(t)
	backend.WriteFile(ctx, "old.txt", []byte("data"), 0)

	if err := backend.Rename(ctx, "old.txt", "moved/new.txt"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	exists, err := backend.Exists(ctx, "old.txt")
	if err != nil || exists {
		t.Error("old path should be gone after rename")
	}
	exists, err = backend.Exists(ctx, "moved/new.txt")
	if err != nil || !exists {
		t.Error("new path should exist after rename")
	}

	if err := backend.Delete(ctx, "moved"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	exists, _ = backend.Exists(ctx, "moved/new.txt")
	if exists {
		t.Error("deleted path should be gone")
	}
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	backend, _ := newLocal(t)
	backend.WriteFile(ctx, "s.txt", []byte("12345"), 0600)

	info, err := backend.Stat(ctx, "s.txt")
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size != 5 {
		t.Errorf("expected size 5, got %d", info.Size)
	}
	if info.IsDir {
		t.Error("file reported as directory")
	}
	if info.Permissions != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Permissions)
	}
}
