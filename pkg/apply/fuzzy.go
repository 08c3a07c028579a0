package apply

import (
	"github.com/sdejongh/patchnorris/pkg/models"
)

// oldLines extracts the hunk lines that must literally exist in the target
// (context and removed lines)
func oldLines(hunk *models.Hunk) []string {
	lines := make([]string, 0, hunk.OldCount)
	for _, l := range hunk.Lines {
		if l.Tag == models.LineContext || l.Tag == models.LineRemoved {
			lines = append(lines, l.Text)
		}
	}
	return lines
}

// matchesAt reports whether the hunk's old-side lines literally match the
// target at position pos (0-based)
func matchesAt(target, want []string, pos int) bool {
	if pos < 0 || pos+len(want) > len(target) {
		return false
	}
	for i, line := range want {
		if target[pos+i] != line {
			return false
		}
	}
	return true
}

// findHunkPosition locates the hunk's old-side lines in the target. The
// search starts at the expected position and widens one line at a time up
// to maxOffset in both directions, preferring the earlier side on ties.
// Returns the matching 0-based position, or -1.
//
// Pure insertions have nothing to match; their expected position is
// returned as-is after clamping into the target's bounds.
func findHunkPosition(target []string, hunk *models.Hunk, expected, maxOffset int) int {
	want := oldLines(hunk)
	if len(want) == 0 {
		if expected < 0 {
			return 0
		}
		if expected > len(target) {
			return len(target)
		}
		return expected
	}

	if matchesAt(target, want, expected) {
		return expected
	}
	for offset := 1; offset <= maxOffset; offset++ {
		if matchesAt(target, want, expected-offset) {
			return expected - offset
		}
		if matchesAt(target, want, expected+offset) {
			return expected + offset
		}
	}
	return -1
}
