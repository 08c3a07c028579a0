package diff

import (
	"github.com/sdejongh/patchnorris/pkg/models"
)

// Edit is one step of an edit script: a line kept, removed or added
type Edit struct {
	Tag  models.LineTag
	Text string
}

// Script computes a minimal edit script turning a into b using the Myers
// shortest-edit-distance algorithm over whole lines. Tie-breaking is
// deterministic: at every divergence removals are taken before additions,
// which prefers the earliest matching alignment.
func Script(a, b []string) []Edit {
	// Trim the common prefix and suffix first; most file revisions touch
	// a small region and this keeps the search quadratic only in the
	// changed middle.
	prefix := commonPrefix(a, b)
	ta, tb := a[prefix:], b[prefix:]
	suffix := commonSuffix(ta, tb)
	mid := myers(ta[:len(ta)-suffix], tb[:len(tb)-suffix])

	edits := make([]Edit, 0, prefix+len(mid)+suffix)
	for i := 0; i < prefix; i++ {
		edits = append(edits, Edit{Tag: models.LineContext, Text: a[i]})
	}
	edits = append(edits, mid...)
	for i := len(ta) - suffix; i < len(ta); i++ {
		edits = append(edits, Edit{Tag: models.LineContext, Text: ta[i]})
	}
	return edits
}

func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

// myers runs the O((N+M)D) greedy forward search with a full trace, then
// backtracks to reconstruct the script.
func myers(a, b []string) []Edit {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return nil
	}

	max := n + m
	offset := max
	v := make([]int, 2*max+1)
	var trace [][]int

search:
	for d := 0; d <= max; d++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				break search
			}
		}
	}

	// Backtrack from (n, m) through the recorded furthest-reaching points
	var reversed []Edit
	x, y := n, m
	for d := len(trace) - 1; d > 0; d-- {
		snapshot := trace[d]
		k := x - y

		var prevK int
		if k == -d || (k != d && snapshot[offset+k-1] < snapshot[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := snapshot[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			reversed = append(reversed, Edit{Tag: models.LineContext, Text: a[x-1]})
			x--
			y--
		}
		if x == prevX {
			reversed = append(reversed, Edit{Tag: models.LineAdded, Text: b[y-1]})
			y--
		} else {
			reversed = append(reversed, Edit{Tag: models.LineRemoved, Text: a[x-1]})
			x--
		}
	}
	for x > 0 && y > 0 {
		reversed = append(reversed, Edit{Tag: models.LineContext, Text: a[x-1]})
		x--
		y--
	}
	for x > 0 {
		reversed = append(reversed, Edit{Tag: models.LineRemoved, Text: a[x-1]})
		x--
	}
	for y > 0 {
		reversed = append(reversed, Edit{Tag: models.LineAdded, Text: b[y-1]})
		y--
	}

	edits := make([]Edit, len(reversed))
	for i := range reversed {
		edits[i] = reversed[len(reversed)-1-i]
	}
	return edits
}
