package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/sdejongh/patchnorris/pkg/storage"
)

// Algorithm selects the fingerprint function
type Algorithm string

const (
	// SHA256 is the default algorithm for change detection and
	// integrity verification
	SHA256 Algorithm = "sha256"
	// MD5 is faster but weaker; suitable for non-critical trees
	MD5 Algorithm = "md5"
)

// Partial hashing configuration
const (
	// Minimum file size to enable partial hashing (1MB)
	partialHashThreshold = 1 * 1024 * 1024
	// Size of partial hash to compute (256KB)
	partialHashSize = 256 * 1024
)

// ReaderWrapper wraps a reader, e.g. for rate limiting
type ReaderWrapper func(io.ReadCloser) io.ReadCloser

// Hasher computes content fingerprints for files and byte buffers.
// Results are prefixed with the algorithm name ("sha256:<hex>") so that
// hashes embedded in patch documents are self-describing.
type Hasher struct {
	algorithm     Algorithm
	bufferSize    int
	bufferPool    *sync.Pool
	readerWrapper ReaderWrapper
}

// New creates a hasher with the given algorithm and read buffer size
func New(algorithm Algorithm, bufferSize int) *Hasher {
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	if algorithm == "" {
		algorithm = SHA256
	}
	return &Hasher{
		algorithm:  algorithm,
		bufferSize: bufferSize,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
	}
}

// SetReaderWrapper sets a function to wrap readers (e.g. for rate limiting)
func (h *Hasher) SetReaderWrapper(wrapper ReaderWrapper) {
	h.readerWrapper = wrapper
}

// Algorithm returns the configured algorithm
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

func (h *Hasher) newHash() hash.Hash {
	if h.algorithm == MD5 {
		return md5.New()
	}
	return sha256.New()
}

func (h *Hasher) format(sum []byte) string {
	return fmt.Sprintf("%s:%x", h.algorithm, sum)
}

// Sum fingerprints an in-memory buffer
func (h *Hasher) Sum(data []byte) string {
	hasher := h.newHash()
	hasher.Write(data)
	return h.format(hasher.Sum(nil))
}

// File fingerprints a file through the backend using streaming reads
func (h *Hasher) File(ctx context.Context, backend storage.Backend, path string) (string, error) {
	reader, err := backend.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	if h.readerWrapper != nil {
		reader = h.readerWrapper(reader)
	}

	hasher := h.newHash()

	bufPtr := h.bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer h.bufferPool.Put(bufPtr)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return h.format(hasher.Sum(nil)), nil
}

// Partial fingerprints the first 256KB of a file. Used for quick rejection
// when pairing rename candidates: different partial hashes mean different
// content without reading either file fully.
func (h *Hasher) Partial(ctx context.Context, backend storage.Backend, path string) (string, error) {
	reader, err := backend.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	if h.readerWrapper != nil {
		reader = h.readerWrapper(reader)
	}

	hasher := h.newHash()

	bufPtr := h.bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer h.bufferPool.Put(bufPtr)

	var totalRead int64
	for totalRead < partialHashSize {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			bytesToHash := int64(n)
			if totalRead+bytesToHash > partialHashSize {
				bytesToHash = partialHashSize - totalRead
			}
			hasher.Write(buffer[:bytesToHash])
			totalRead += bytesToHash
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return h.format(hasher.Sum(nil)), nil
}

// PartialThreshold reports whether a file of the given size is large enough
// for the partial-hash quick rejection to be worthwhile
func PartialThreshold(size int64) bool {
	return size >= partialHashThreshold
}
