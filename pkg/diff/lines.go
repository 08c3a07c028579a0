package diff

import (
	"bytes"
)

// Binary detection defaults. The heuristic mirrors the common "NUL byte or
// too many non-text bytes in the leading sample" rule; all knobs are
// configurable because the exact thresholds are policy, not correctness.
const (
	// DefaultSampleWindow is how many leading bytes are inspected
	DefaultSampleWindow = 8192
	// DefaultNonTextRatio is the rejection threshold: more than 30 non-text
	// bytes per 255 sampled flags the buffer as binary
	DefaultNonTextRatio = 30.0 / 255.0
	// DefaultMaxLineLength flags files with extremely long lines as binary
	DefaultMaxLineLength = 4096
)

// BinaryDetector classifies byte content as text or binary
type BinaryDetector struct {
	// SampleWindow is the number of leading bytes to inspect (0 = default)
	SampleWindow int

	// NonTextRatio is the maximum tolerated fraction of non-text bytes
	// within the sample (0 = default)
	NonTextRatio float64

	// MaxLineLength flags content with longer lines as binary (0 = default)
	MaxLineLength int
}

func (d BinaryDetector) sampleWindow() int {
	if d.SampleWindow <= 0 {
		return DefaultSampleWindow
	}
	return d.SampleWindow
}

func (d BinaryDetector) nonTextRatio() float64 {
	if d.NonTextRatio <= 0 {
		return DefaultNonTextRatio
	}
	return d.NonTextRatio
}

func (d BinaryDetector) maxLineLength() int {
	if d.MaxLineLength <= 0 {
		return DefaultMaxLineLength
	}
	return d.MaxLineLength
}

// IsBinary reports whether content should be treated as binary rather than
// line-diffed. A NUL byte in the sample window is decisive; otherwise the
// ratio of non-text bytes and the longest line length are checked.
func (d BinaryDetector) IsBinary(content []byte) bool {
	sample := content
	if len(sample) > d.sampleWindow() {
		sample = sample[:d.sampleWindow()]
	}
	if len(sample) == 0 {
		return false
	}

	nonText := 0
	for _, b := range sample {
		if b == 0x00 {
			return true
		}
		if !isTextByte(b) {
			nonText++
		}
	}
	if float64(nonText)/float64(len(sample)) > d.nonTextRatio() {
		return true
	}

	return longestLine(content) > d.maxLineLength()
}

// isTextByte reports whether b belongs to the printable/text set:
// anything except C0 control characters other than common whitespace,
// and except DEL. High bytes pass, so UTF-8 text is not misclassified.
func isTextByte(b byte) bool {
	if b >= 0x20 && b != 0x7f {
		return true
	}
	switch b {
	case '\t', '\n', '\r', '\f', '\v', '\b', 0x1b:
		return true
	}
	return false
}

func longestLine(content []byte) int {
	longest, current := 0, 0
	for _, b := range content {
		if b == '\n' {
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current++
	}
	if current > longest {
		longest = current
	}
	return longest
}

// SplitLines tokenizes content into lines, each retaining its terminating
// newline. The final line may lack one; concatenating the result always
// reproduces the input bytes exactly.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}

	var lines []string
	for len(content) > 0 {
		idx := bytes.IndexByte(content, '\n')
		if idx < 0 {
			lines = append(lines, string(content))
			break
		}
		lines = append(lines, string(content[:idx+1]))
		content = content[idx+1:]
	}
	return lines
}

// JoinLines is the inverse of SplitLines
func JoinLines(lines []string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
	}
	return buf.Bytes()
}
