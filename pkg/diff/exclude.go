package diff

import (
	"path/filepath"
	"strings"
)

// shouldExclude checks if a relative path matches any exclude pattern.
// Patterns support basename globs (*.tmp), directory patterns (.git/),
// path globs (build/*) and **/ prefixes matching at any depth.
func shouldExclude(relativePath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	normalizedPath := filepath.ToSlash(relativePath)
	baseName := filepath.Base(relativePath)

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		normalizedPattern := filepath.ToSlash(pattern)

		if strings.HasSuffix(normalizedPattern, "/") {
			dirPattern := strings.TrimSuffix(normalizedPattern, "/")
			if normalizedPath == dirPattern ||
				strings.HasPrefix(normalizedPath, dirPattern+"/") ||
				strings.Contains(normalizedPath, "/"+dirPattern+"/") {
				return true
			}
			continue
		}

		if rest, ok := strings.CutPrefix(normalizedPattern, "**/"); ok {
			if matched, _ := filepath.Match(rest, baseName); matched {
				return true
			}
			if strings.HasSuffix(normalizedPath, "/"+rest) || normalizedPath == rest {
				return true
			}
			continue
		}

		if strings.Contains(normalizedPattern, "/") {
			if matched, _ := filepath.Match(normalizedPattern, normalizedPath); matched {
				return true
			}
			continue
		}

		if matched, _ := filepath.Match(normalizedPattern, baseName); matched {
			return true
		}
	}

	return false
}
