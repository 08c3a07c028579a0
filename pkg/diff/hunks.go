package diff

import (
	"github.com/sdejongh/patchnorris/pkg/models"
)

// BuildHunks groups an edit script into hunks. Contiguous runs of changed
// lines become one hunk padded with up to context unchanged lines on each
// side; hunks whose context windows would touch or overlap are merged.
func BuildHunks(edits []Edit, context int) []models.Hunk {
	if context < 0 {
		context = 0
	}

	// Prefix counts of old-side and new-side lines, so a hunk's start
	// positions can be derived from its first edit index.
	oldBefore := make([]int, len(edits)+1)
	newBefore := make([]int, len(edits)+1)
	for i, e := range edits {
		oldBefore[i+1] = oldBefore[i]
		newBefore[i+1] = newBefore[i]
		if e.Tag == models.LineContext || e.Tag == models.LineRemoved {
			oldBefore[i+1]++
		}
		if e.Tag == models.LineContext || e.Tag == models.LineAdded {
			newBefore[i+1]++
		}
	}

	var hunks []models.Hunk
	i := 0
	for i < len(edits) {
		if edits[i].Tag == models.LineContext {
			i++
			continue
		}

		// Extend the group across context gaps small enough that the
		// surrounding windows would merge anyway.
		start := i
		end := i + 1
		j := i + 1
		for j < len(edits) {
			if edits[j].Tag != models.LineContext {
				end = j + 1
				j++
				continue
			}
			gap := j
			for gap < len(edits) && edits[gap].Tag == models.LineContext {
				gap++
			}
			if gap < len(edits) && gap-j <= 2*context {
				j = gap
				continue
			}
			break
		}

		hunkStart := start - context
		if hunkStart < 0 {
			hunkStart = 0
		}
		hunkEnd := end + context
		if hunkEnd > len(edits) {
			hunkEnd = len(edits)
		}

		hunk := models.Hunk{
			OldCount: oldBefore[hunkEnd] - oldBefore[hunkStart],
			NewCount: newBefore[hunkEnd] - newBefore[hunkStart],
		}
		// Unified diff convention: a zero-count side anchors at the line
		// before the change instead of the first line of the hunk.
		if hunk.OldCount > 0 {
			hunk.OldStart = oldBefore[hunkStart] + 1
		} else {
			hunk.OldStart = oldBefore[hunkStart]
		}
		if hunk.NewCount > 0 {
			hunk.NewStart = newBefore[hunkStart] + 1
		} else {
			hunk.NewStart = newBefore[hunkStart]
		}

		hunk.Lines = make([]models.HunkLine, 0, hunkEnd-hunkStart)
		for _, e := range edits[hunkStart:hunkEnd] {
			hunk.Lines = append(hunk.Lines, models.HunkLine{Tag: e.Tag, Text: e.Text})
		}

		hunks = append(hunks, hunk)
		i = hunkEnd
	}

	return hunks
}
