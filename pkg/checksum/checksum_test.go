package checksum

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdejongh/patchnorris/pkg/storage"
)

func newBackend(t *testing.T, files map[string][]byte) storage.Backend {
	t.Helper()
	root := t.TempDir()
	for rel, data := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
	backend, err := storage.NewLocal(root)
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	return backend
}

func TestSum(t *testing.T) {
	t.Run("SelfDescribingFormat", func(t *testing.T) {
		h := New(SHA256, 0)
		sum := h.Sum([]byte("hello"))
		if !strings.HasPrefix(sum, "sha256:") {
			t.Errorf("sum should carry the algorithm prefix, got %q", sum)
		}
		raw := sha256.Sum256([]byte("hello"))
		if sum != fmt.Sprintf("sha256:%x", raw) {
			t.Errorf("sum mismatch: %q", sum)
		}
	})

	t.Run("MD5", func(t *testing.T) {
		h := New(MD5, 0)
		if !strings.HasPrefix(h.Sum(nil), "md5:") {
			t.Error("md5 sums should carry the md5 prefix")
		}
	})

	t.Run("EmptyAlgorithmDefaultsToSHA256", func(t *testing.T) {
		h := New("", 0)
		if h.Algorithm() != SHA256 {
			t.Errorf("expected sha256 default, got %s", h.Algorithm())
		}
	})

	t.Run("DistinctContentDistinctSums", func(t *testing.T) {
		h := New(SHA256, 0)
		if h.Sum([]byte("a")) == h.Sum([]byte("b")) {
			t.Error("different content produced identical sums")
		}
	})
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	content := []byte("file content for hashing\nwith two lines\n")
	backend := newBackend(t, map[string][]byte{"f.txt": content})

	t.Run("MatchesBufferSum", func(t *testing.T) {
		h := New(SHA256, 0)
		fileSum, err := h.File(ctx, backend, "f.txt")
		if err != nil {
			t.Fatalf("file hash failed: %v", err)
		}
		if fileSum != h.Sum(content) {
			t.Error("streaming hash differs from buffer hash")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		h := New(SHA256, 0)
		if _, err := h.File(ctx, backend, "absent.txt"); err == nil {
			t.Error("missing file should fail")
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		h := New(SHA256, 0)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := h.File(cancelled, backend, "f.txt"); err == nil {
			t.Error("cancelled context should abort hashing")
		}
	})

	t.Run("ReaderWrapperApplied", func(t *testing.T) {
		h := New(SHA256, 0)
		wrapped := false
		h.SetReaderWrapper(func(r io.ReadCloser) io.ReadCloser {
			wrapped = true
			return r
		})
		if _, err := h.File(ctx, backend, "f.txt"); err != nil {
			t.Fatalf("file hash failed: %v", err)
		}
		if !wrapped {
			t.Error("reader wrapper was not applied")
		}
	})
}

func TestPartial(t *testing.T) {
	ctx := context.Background()
	h := New(SHA256, 0)

	t.Run("SmallFileHashesEverything", func(t *testing.T) {
		content := []byte("short")
		backend := newBackend(t, map[string][]byte{"s.txt": content})
		partial, err := h.Partial(ctx, backend, "s.txt")
		if err != nil {
			t.Fatalf("partial hash failed: %v", err)
		}
		if partial != h.Sum(content) {
			t.Error("partial hash of a small file should equal the full hash")
		}
	})

	t.Run("LargeFileHashesPrefixOnly", func(t *testing.T) {
		content := make([]byte, partialHashSize+1000)
		for i := range content {
			content[i] = byte(i % 251)
		}
		backend := newBackend(t, map[string][]byte{"big.bin": content})

		partial, err := h.Partial(ctx, backend, "big.bin")
		if err != nil {
			t.Fatalf("partial hash failed: %v", err)
		}
		if partial != h.Sum(content[:partialHashSize]) {
			t.Error("partial hash should cover exactly the prefix")
		}
		if partial == h.Sum(content) {
			t.Error("partial hash should not equal the full hash of a larger file")
		}
	})
}

func TestPartialThreshold(t *testing.T) {
	if PartialThreshold(partialHashThreshold - 1) {
		t.Error("file below the threshold should not use partial hashing")
	}
	if !PartialThreshold(partialHashThreshold) {
		t.Error("file at the threshold should use partial hashing")
	}
}

func BenchmarkSum(b *testing.B) {
	h := New(SHA256, 65536)
	data := make([]byte, 1024*1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Sum(data)
	}
}
