package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo represents metadata about a file
type FileInfo struct {
	Path         string
	RelativePath string
	Size         int64
	ModTime      time.Time
	IsDir        bool
	Permissions  uint32
}

// Backend defines the interface for filesystem operations rooted at a tree.
// The diff generator reads through it, the applier and backup manager write
// through it. Implementations must be safe for concurrent use on distinct
// paths.
type Backend interface {
	// Root returns the absolute root path of the backend
	Root() string

	// List returns all files under path recursively
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Read opens a file for reading
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadFile reads an entire file into memory
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Write creates or overwrites a file from a stream. If metadata is
	// provided, timestamps and permissions are preserved.
	Write(ctx context.Context, path string, reader io.Reader, size int64, metadata *FileInfo) error

	// WriteFile creates or overwrites a file with the given bytes
	WriteFile(ctx context.Context, path string, data []byte, perm uint32) error

	// Rename moves a file within the backend, creating parent directories
	Rename(ctx context.Context, oldPath, newPath string) error

	// Delete removes a file or directory
	Delete(ctx context.Context, path string) error

	// Exists checks if a file or directory exists
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns file metadata
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// MkdirAll creates a directory and all necessary parents
	MkdirAll(ctx context.Context, path string) error

	// Close releases any resources held by the backend
	Close() error
}
