// Package platform resolves the per-user filesystem locations the CLI
// depends on and normalizes user-supplied paths.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// appDir is the per-user directory name used for config, state and logs
const appDir = "patchnorris"

// ExpandUser expands a leading ~ or ~/ to the user's home directory.
// Paths without the prefix are returned unchanged.
func ExpandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Absolute expands the user prefix and makes the path absolute against
// the working directory
func Absolute(path string) (string, error) {
	expanded := ExpandUser(path)
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", &PathError{Path: path, Message: err.Error()}
	}
	return abs, nil
}

// ConfigDir returns the per-user configuration directory
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", &PathError{Path: "", Message: "cannot determine config directory: " + err.Error()}
	}
	return filepath.Join(base, appDir), nil
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultBackupDir returns the default backup store location
func DefaultBackupDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &PathError{Path: "", Message: "cannot determine home directory: " + err.Error()}
	}
	return filepath.Join(home, "."+appDir, "backups"), nil
}

// DefaultLogPath returns the default log file location
func DefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &PathError{Path: "", Message: "cannot determine home directory: " + err.Error()}
	}
	return filepath.Join(home, "."+appDir, "logs", appDir+".log"), nil
}

// ValidatePath rejects empty paths and characters the current platform
// cannot store in file names
func ValidatePath(path string) error {
	if path == "" {
		return &PathError{Path: path, Message: "path is empty"}
	}
	if runtime.GOOS == "windows" {
		for _, char := range []string{"<", ">", "\"", "|", "?", "*"} {
			if strings.Contains(path, char) {
				return &PathError{Path: path, Message: "path contains invalid character: " + char}
			}
		}
	}
	return nil
}

// PathError represents a path resolution or validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}
