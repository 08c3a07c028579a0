package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Local is a filesystem-based backend rooted at a directory
type Local struct {
	rootPath string
}

// NewLocal creates a local backend rooted at rootPath, which must be an
// existing directory
func NewLocal(rootPath string) (*Local, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	return &Local{rootPath: absPath}, nil
}

// Root returns the absolute root path
func (l *Local) Root() string {
	return l.rootPath
}

func (l *Local) abs(path string) string {
	return filepath.Join(l.rootPath, path)
}

// List returns all files under path recursively, with paths relative to
// the backend root
func (l *Local) List(ctx context.Context, path string) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(l.abs(path), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(l.rootPath, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, FileInfo{
			Path:         p,
			RelativePath: relPath,
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			IsDir:        info.IsDir(),
			Permissions:  uint32(info.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return files, nil
}

// Read opens a file for reading
func (l *Local) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(l.abs(path))
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ReadFile reads an entire file into memory
func (l *Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.abs(path))
}

// Write creates or overwrites a file from a stream
func (l *Local) Write(ctx context.Context, path string, reader io.Reader, size int64, metadata *FileInfo) error {
	fullPath := l.abs(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("incomplete write: expected %d bytes, wrote %d", size, written)
	}

	if metadata != nil {
		if metadata.Permissions != 0 {
			if err := os.Chmod(fullPath, os.FileMode(metadata.Permissions)); err != nil {
				return fmt.Errorf("failed to set permissions: %w", err)
			}
		}
		if !metadata.ModTime.IsZero() {
			if err := os.Chtimes(fullPath, time.Now(), metadata.ModTime); err != nil {
				return fmt.Errorf("failed to set timestamps: %w", err)
			}
		}
	}

	return nil
}

// WriteFile creates or overwrites a file with the given bytes
func (l *Local) WriteFile(ctx context.Context, path string, data []byte, perm uint32) error {
	fullPath := l.abs(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if perm == 0 {
		perm = 0644
	}
	return os.WriteFile(fullPath, data, os.FileMode(perm))
}

// Rename moves a file within the backend
func (l *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	dst := l.abs(newPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.Rename(l.abs(oldPath), dst)
}

// Delete removes a file or directory
func (l *Local) Delete(ctx context.Context, path string) error {
	return os.RemoveAll(l.abs(path))
}

// Exists checks if a file or directory exists
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(l.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Stat returns file metadata
func (l *Local) Stat(ctx context.Context, path string) (*FileInfo, error) {
	fullPath := l.abs(path)
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		Path:         fullPath,
		RelativePath: path,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		IsDir:        info.IsDir(),
		Permissions:  uint32(info.Mode().Perm()),
	}, nil
}

// MkdirAll creates a directory and all necessary parents
func (l *Local) MkdirAll(ctx context.Context, path string) error {
	return os.MkdirAll(l.abs(path), 0755)
}

// Close releases resources (no-op for the local backend)
func (l *Local) Close() error {
	return nil
}
