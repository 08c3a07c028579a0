package patch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/patchnorris/pkg/models"
)

func sampleDocument() *models.PatchDocument {
	return &models.PatchDocument{
		Meta: models.Metadata{
			Author:      "alice",
			Created:     time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
			Description: "first line\nsecond line",
			Version:     models.FormatVersion,
		},
		Entries: []models.FileDiffEntry{
			{
				OldPath: "src/main.go",
				NewPath: "src/main.go",
				Kind:    models.KindTextModify,
				OldHash: "sha256:aaaa",
				NewHash: "sha256:bbbb",
				Hunks: []models.Hunk{
					{
						OldStart: 1, OldCount: 3, NewStart: 1, NewCount: 3,
						Lines: []models.HunkLine{
							{Tag: models.LineContext, Text: "package main\n"},
							{Tag: models.LineRemoved, Text: "var x = 1\n"},
							{Tag: models.LineAdded, Text: "var x = 2\n"},
							{Tag: models.LineContext, Text: "func main() {}\n"},
						},
					},
				},
			},
			{
				OldPath: "assets/logo.png",
				NewPath: "assets/logo.png",
				Kind:    models.KindBinaryReplace,
				OldHash: "sha256:cccc",
				NewHash: "sha256:dddd",
				Content: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01},
			},
			{
				NewPath: "docs/NOTES.md",
				Kind:    models.KindAdd,
				NewHash: "sha256:eeee",
				Hunks: []models.Hunk{
					{
						OldStart: 0, OldCount: 0, NewStart: 1, NewCount: 2,
						Lines: []models.HunkLine{
							{Tag: models.LineAdded, Text: "# Notes\n"},
							{Tag: models.LineAdded, Text: "hello\n"},
						},
					},
				},
			},
			{
				NewPath: "bin/tool",
				Kind:    models.KindAdd,
				NewHash: "sha256:ffff",
				Content: []byte{0x7f, 0x45, 0x4c, 0x46},
			},
			{
				OldPath: "legacy.txt",
				Kind:    models.KindDelete,
				OldHash: "sha256:1111",
				Hunks: []models.Hunk{
					{
						OldStart: 1, OldCount: 1, NewStart: 0, NewCount: 0,
						Lines: []models.HunkLine{
							{Tag: models.LineRemoved, Text: "obsolete\n"},
						},
					},
				},
			},
			{
				OldPath: "old/name.txt",
				NewPath: "new/name.txt",
				Kind:    models.KindRename,
				OldHash: "sha256:2222",
				NewHash: "sha256:2222",
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	original := sampleDocument()

	data, err := Marshal(original)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, original.Meta, parsed.Meta)
	require.Len(t, parsed.Entries, len(original.Entries))
	for i := range original.Entries {
		assert.Equal(t, original.Entries[i], parsed.Entries[i], "entry %d", i)
	}

	// Serializing the parsed document must reproduce the exact bytes
	again, err := Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestRoundTripNoTrailingNewline(t *testing.T) {
	doc := &models.PatchDocument{
		Meta: models.Metadata{Version: models.FormatVersion},
		Entries: []models.FileDiffEntry{
			{
				OldPath: "f.txt",
				NewPath: "f.txt",
				Kind:    models.KindTextModify,
				OldHash: "sha256:aaaa",
				NewHash: "sha256:bbbb",
				Hunks: []models.Hunk{
					{
						OldStart: 1, OldCount: 1, NewStart: 1, NewCount: 1,
						Lines: []models.HunkLine{
							{Tag: models.LineRemoved, Text: "old without newline"},
							{Tag: models.LineAdded, Text: "new without newline"},
						},
					},
				},
			},
		},
	}

	data, err := Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), noNewlineMarker)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 1)
	lines := parsed.Entries[0].Hunks[0].Lines
	assert.Equal(t, "old without newline", lines[0].Text)
	assert.Equal(t, "new without newline", lines[1].Text)
}

func TestMarshalRejectsInvalid(t *testing.T) {
	doc := &models.PatchDocument{
		Meta: models.Metadata{Version: models.FormatVersion},
		Entries: []models.FileDiffEntry{
			{Kind: models.KindAdd}, // missing new path
		},
	}
	_, err := Marshal(doc)
	assert.Error(t, err)
}

func TestParseHeader(t *testing.T) {
	t.Run("MissingFormatHeader", func(t *testing.T) {
		_, err := Parse([]byte("not a patch\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 1, formatErr.Line)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		_, err := Parse([]byte("# patchnorris: 99\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Contains(t, formatErr.Error(), "unsupported format version")
	})

	t.Run("EmptyAuthor", func(t *testing.T) {
		_, err := Parse([]byte("# patchnorris: 1\n# author: \n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 2, formatErr.Line)
	})

	t.Run("BadDate", func(t *testing.T) {
		_, err := Parse([]byte("# patchnorris: 1\n# date: yesterday\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 2, formatErr.Line)
	})

	t.Run("HeaderOnlyIsEmptyDocument", func(t *testing.T) {
		doc, err := Parse([]byte("# patchnorris: 1\n"))
		require.NoError(t, err)
		assert.Empty(t, doc.Entries)
	})

	t.Run("MultiLineDescription", func(t *testing.T) {
		input := "# patchnorris: 1\n# description: one\n# description: two\n"
		doc, err := Parse([]byte(input))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo", doc.Meta.Description)
	})
}

func TestParseEntryErrors(t *testing.T) {
	header := "# patchnorris: 1\n"

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := Parse([]byte(header + "# entry: sideways\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 2, formatErr.Line)
	})

	t.Run("HashWithoutAlgorithm", func(t *testing.T) {
		_, err := Parse([]byte(header + "# entry: modify\n# old-hash: deadbeef\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 3, formatErr.Line)
	})

	t.Run("MissingFileHeader", func(t *testing.T) {
		_, err := Parse([]byte(header + "# entry: modify\nsomething else\n"))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 3, formatErr.Line)
	})

	t.Run("BadHunkHeader", func(t *testing.T) {
		input := header +
			"# entry: modify\n" +
			"# old-hash: sha256:aa\n" +
			"# new-hash: sha256:bb\n" +
			"--- f.txt\n" +
			"+++ f.txt\n" +
			"@@ broken @@\n"
		_, err := Parse([]byte(input))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 7, formatErr.Line)
		assert.Contains(t, formatErr.Error(), "hunk header")
	})

	t.Run("HunkBodyRunsShort", func(t *testing.T) {
		input := header +
			"# entry: modify\n" +
			"# old-hash: sha256:aa\n" +
			"# new-hash: sha256:bb\n" +
			"--- f.txt\n" +
			"+++ f.txt\n" +
			"@@ -1,2 +1,2 @@\n" +
			" only one line\n"
		_, err := Parse([]byte(input))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Contains(t, formatErr.Error(), "hunk line")
	})

	t.Run("UnknownLineTag", func(t *testing.T) {
		input := header +
			"# entry: modify\n" +
			"# old-hash: sha256:aa\n" +
			"# new-hash: sha256:bb\n" +
			"--- f.txt\n" +
			"+++ f.txt\n" +
			"@@ -1,1 +1,1 @@\n" +
			"*what is this\n"
		_, err := Parse([]byte(input))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 8, formatErr.Line)
	})

	t.Run("RenameMissingTo", func(t *testing.T) {
		input := header +
			"# entry: rename\n" +
			"rename from a.txt\n" +
			"something else\n"
		_, err := Parse([]byte(input))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
		assert.Equal(t, 4, formatErr.Line)
	})

	t.Run("UndecodableBinaryContent", func(t *testing.T) {
		input := header +
			"# entry: binary\n" +
			"# old-hash: sha256:aa\n" +
			"# new-hash: sha256:bb\n" +
			"Binary files a.bin and a.bin differ\n" +
			"# content: !!!not-base64!!!\n"
		_, err := Parse([]byte(input))
		var formatErr *models.FormatError
		require.ErrorAs(t, err, &formatErr)
	})
}

func TestParseDevNull(t *testing.T) {
	t.Run("AddUsesDevNullOldSide", func(t *testing.T) {
		input := "# patchnorris: 1\n" +
			"# entry: add\n" +
			"# new-hash: sha256:aa\n" +
			"--- /dev/null\n" +
			"+++ created.txt\n" +
			"@@ -0,0 +1,1 @@\n" +
			"+hello\n"
		doc, err := Parse([]byte(input))
		require.NoError(t, err)
		require.Len(t, doc.Entries, 1)
		assert.Empty(t, doc.Entries[0].OldPath)
		assert.Equal(t, "created.txt", doc.Entries[0].NewPath)
	})

	t.Run("DeleteBinaryWithoutContent", func(t *testing.T) {
		input := "# patchnorris: 1\n" +
			"# entry: delete\n" +
			"# old-hash: sha256:aa\n" +
			"Binary files gone.bin and /dev/null differ\n"
		doc, err := Parse([]byte(input))
		require.NoError(t, err)
		require.Len(t, doc.Entries, 1)
		assert.Equal(t, "gone.bin", doc.Entries[0].OldPath)
		assert.Empty(t, doc.Entries[0].NewPath)
		assert.Empty(t, doc.Entries[0].Content)
	})
}

func TestRead(t *testing.T) {
	data, err := Marshal(sampleDocument())
	require.NoError(t, err)

	doc, err := Read(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Len(t, doc.Entries, 6)
}

func TestParseEmptyContextLine(t *testing.T) {
	// Some tools emit a bare empty line instead of a single space for an
	// empty context line.
	input := "# patchnorris: 1\n" +
		"# entry: modify\n" +
		"# old-hash: sha256:aa\n" +
		"# new-hash: sha256:bb\n" +
		"--- f.txt\n" +
		"+++ f.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		"-top\n" +
		"+TOP\n" +
		"\n" +
		" bottom\n"
	doc, err := Parse([]byte(input))
	require.NoError(t, err)
	lines := doc.Entries[0].Hunks[0].Lines
	require.Len(t, lines, 4)
	assert.Equal(t, models.LineContext, lines[2].Tag)
	assert.Equal(t, "\n", lines[2].Text)
}
