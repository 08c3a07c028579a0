// Package patch implements the textual patch document format: a unified-diff
// compatible body extended with a metadata header block, per-entry hash
// comments and an explicit binary entry marker.
package patch

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sdejongh/patchnorris/pkg/models"
)

// Format tokens shared by the serializer and the parser
const (
	headerPrefix      = "# patchnorris: "
	authorPrefix      = "# author: "
	datePrefix        = "# date: "
	descriptionPrefix = "# description: "
	entryPrefix       = "# entry: "
	oldHashPrefix     = "# old-hash: "
	newHashPrefix     = "# new-hash: "
	contentPrefix     = "# content: "
	renameFromPrefix  = "rename from "
	renameToPrefix    = "rename to "
	oldFilePrefix     = "--- "
	newFilePrefix     = "+++ "
	devNull           = "/dev/null"
	noNewlineMarker   = `\ No newline at end of file`
)

// Marshal renders a patch document to its textual form
func Marshal(doc *models.PatchDocument) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders a patch document to w. The document is validated first so
// a malformed in-memory patch is never serialized.
func Write(w io.Writer, doc *models.PatchDocument) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("refusing to serialize invalid document: %w", err)
	}

	fmt.Fprintf(w, "%s%d\n", headerPrefix, models.FormatVersion)
	if doc.Meta.Author != "" {
		fmt.Fprintf(w, "%s%s\n", authorPrefix, doc.Meta.Author)
	}
	if !doc.Meta.Created.IsZero() {
		fmt.Fprintf(w, "%s%s\n", datePrefix, doc.Meta.Created.UTC().Format(time.RFC3339))
	}
	if doc.Meta.Description != "" {
		// A multi-line description folds onto repeated header lines
		for _, line := range strings.Split(doc.Meta.Description, "\n") {
			fmt.Fprintf(w, "%s%s\n", descriptionPrefix, line)
		}
	}

	for i := range doc.Entries {
		if err := writeEntry(w, &doc.Entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, entry *models.FileDiffEntry) error {
	fmt.Fprintf(w, "%s%s\n", entryPrefix, entry.Kind)
	if entry.OldHash != "" {
		fmt.Fprintf(w, "%s%s\n", oldHashPrefix, entry.OldHash)
	}
	if entry.NewHash != "" {
		fmt.Fprintf(w, "%s%s\n", newHashPrefix, entry.NewHash)
	}

	if entry.Kind == models.KindRename {
		fmt.Fprintf(w, "%s%s\n", renameFromPrefix, entry.OldPath)
		fmt.Fprintf(w, "%s%s\n", renameToPrefix, entry.NewPath)
		if len(entry.Hunks) > 0 {
			writeFileHeader(w, entry.OldPath, entry.NewPath)
			writeHunks(w, entry.Hunks)
		}
		return nil
	}

	binary := entry.Kind == models.KindBinaryReplace ||
		(len(entry.Hunks) == 0 && (entry.Kind == models.KindAdd || entry.Kind == models.KindDelete))
	if binary {
		oldName, newName := entry.OldPath, entry.NewPath
		if oldName == "" {
			oldName = devNull
		}
		if newName == "" {
			newName = devNull
		}
		fmt.Fprintf(w, "Binary files %s and %s differ\n", oldName, newName)
		if len(entry.Content) > 0 {
			fmt.Fprintf(w, "%s%s\n", contentPrefix, base64.StdEncoding.EncodeToString(entry.Content))
		}
		return nil
	}

	writeFileHeader(w, entry.OldPath, entry.NewPath)
	writeHunks(w, entry.Hunks)
	return nil
}

func writeFileHeader(w io.Writer, oldPath, newPath string) {
	if oldPath == "" {
		oldPath = devNull
	}
	if newPath == "" {
		newPath = devNull
	}
	fmt.Fprintf(w, "%s%s\n", oldFilePrefix, oldPath)
	fmt.Fprintf(w, "%s%s\n", newFilePrefix, newPath)
}

func writeHunks(w io.Writer, hunks []models.Hunk) {
	for i := range hunks {
		h := &hunks[i]
		fmt.Fprintf(w, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, line := range h.Lines {
			w.Write([]byte{byte(line.Tag)})
			io.WriteString(w, line.Text)
			if !strings.HasSuffix(line.Text, "\n") {
				// The source line has no terminating newline; record that
				// the way diff(1) does so the parser can round-trip it.
				io.WriteString(w, "\n"+noNewlineMarker+"\n")
			}
		}
	}
}
