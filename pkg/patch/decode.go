package patch

import (
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sdejongh/patchnorris/pkg/models"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+),(\d+) \+(\d+),(\d+) @@`)

// Read parses a patch document from r
func Read(r io.Reader) (*models.PatchDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch document: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a textual patch document. Malformed input is
// rejected with a FormatError naming the offending line; nothing is ever
// silently dropped or repaired.
func Parse(data []byte) (*models.PatchDocument, error) {
	p := &parser{lines: splitRaw(string(data))}

	doc := &models.PatchDocument{}
	if err := p.parseHeader(doc); err != nil {
		return nil, err
	}

	for !p.done() {
		entryLine := p.lineNo()
		entry, err := p.parseEntry()
		if err != nil {
			return nil, err
		}
		if err := entry.Validate(); err != nil {
			return nil, &models.FormatError{Line: entryLine, Message: err.Error()}
		}
		doc.Entries = append(doc.Entries, *entry)
	}

	if err := doc.Validate(); err != nil {
		return nil, &models.FormatError{Line: 1, Message: err.Error()}
	}
	return doc, nil
}

// splitRaw splits on newlines without the terminators. A trailing newline
// does not produce a phantom empty line.
func splitRaw(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) done() bool {
	return p.pos >= len(p.lines)
}

// lineNo is the 1-based number of the next unread line
func (p *parser) lineNo() int {
	return p.pos + 1
}

func (p *parser) peek() (string, bool) {
	if p.done() {
		return "", false
	}
	return p.lines[p.pos], true
}

func (p *parser) next() (string, bool) {
	line, ok := p.peek()
	if ok {
		p.pos++
	}
	return line, ok
}

func (p *parser) errorf(expected, found string) *models.FormatError {
	return &models.FormatError{Line: p.lineNo(), Expected: expected, Found: found}
}

func (p *parser) parseHeader(doc *models.PatchDocument) error {
	line, ok := p.next()
	if !ok || !strings.HasPrefix(line, headerPrefix) {
		return &models.FormatError{Line: 1, Expected: "format header '" + strings.TrimSpace(headerPrefix) + " <version>'", Found: line}
	}
	version, err := strconv.Atoi(strings.TrimPrefix(line, headerPrefix))
	if err != nil {
		return &models.FormatError{Line: 1, Expected: "integer format version", Found: line}
	}
	if version != models.FormatVersion {
		return &models.FormatError{Line: 1, Message: fmt.Sprintf("unsupported format version %d (supported: %d)", version, models.FormatVersion)}
	}
	doc.Meta.Version = version

	var description []string
	for {
		line, ok := p.peek()
		if !ok {
			break
		}
		switch {
		case strings.HasPrefix(line, authorPrefix):
			author := strings.TrimSpace(strings.TrimPrefix(line, authorPrefix))
			if author == "" {
				return p.errorf("non-empty author", line)
			}
			doc.Meta.Author = author
			p.pos++
		case strings.HasPrefix(line, datePrefix):
			raw := strings.TrimSpace(strings.TrimPrefix(line, datePrefix))
			created, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return p.errorf("RFC3339 timestamp", raw)
			}
			doc.Meta.Created = created
			p.pos++
		case strings.HasPrefix(line, descriptionPrefix):
			description = append(description, strings.TrimPrefix(line, descriptionPrefix))
			p.pos++
		default:
			if len(description) > 0 {
				doc.Meta.Description = strings.Join(description, "\n")
			}
			return nil
		}
	}
	if len(description) > 0 {
		doc.Meta.Description = strings.Join(description, "\n")
	}
	return nil
}

func (p *parser) parseEntry() (*models.FileDiffEntry, error) {
	line, _ := p.next()
	if !strings.HasPrefix(line, entryPrefix) {
		p.pos--
		return nil, p.errorf("entry marker '"+strings.TrimSpace(entryPrefix)+" <kind>'", line)
	}

	entry := &models.FileDiffEntry{}
	switch kind := models.EntryKind(strings.TrimPrefix(line, entryPrefix)); kind {
	case models.KindTextModify, models.KindBinaryReplace, models.KindAdd, models.KindDelete, models.KindRename:
		entry.Kind = kind
	default:
		p.pos--
		return nil, p.errorf("entry kind (modify|binary|add|delete|rename)", string(kind))
	}

	for {
		line, ok := p.peek()
		if !ok {
			break
		}
		if strings.HasPrefix(line, oldHashPrefix) {
			hash := strings.TrimPrefix(line, oldHashPrefix)
			if !strings.Contains(hash, ":") {
				return nil, p.errorf("hash in '<algorithm>:<hex>' form", hash)
			}
			entry.OldHash = hash
			p.pos++
			continue
		}
		if strings.HasPrefix(line, newHashPrefix) {
			hash := strings.TrimPrefix(line, newHashPrefix)
			if !strings.Contains(hash, ":") {
				return nil, p.errorf("hash in '<algorithm>:<hex>' form", hash)
			}
			entry.NewHash = hash
			p.pos++
			continue
		}
		break
	}

	if entry.Kind == models.KindRename {
		if err := p.parseRenamePaths(entry); err != nil {
			return nil, err
		}
		if line, ok := p.peek(); ok && strings.HasPrefix(line, oldFilePrefix) {
			if err := p.parseTextBody(entry); err != nil {
				return nil, err
			}
		}
		return entry, nil
	}

	line, ok := p.peek()
	if !ok {
		return nil, p.errorf("file header or binary marker", "end of document")
	}
	switch {
	case strings.HasPrefix(line, "Binary files "):
		if err := p.parseBinaryBody(entry); err != nil {
			return nil, err
		}
	case strings.HasPrefix(line, oldFilePrefix):
		if err := p.parseTextBody(entry); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("file header or binary marker", line)
	}
	return entry, nil
}

func (p *parser) parseRenamePaths(entry *models.FileDiffEntry) error {
	line, ok := p.next()
	if !ok || !strings.HasPrefix(line, renameFromPrefix) {
		p.pos--
		return p.errorf("'rename from <path>'", line)
	}
	entry.OldPath = strings.TrimPrefix(line, renameFromPrefix)

	line, ok = p.next()
	if !ok || !strings.HasPrefix(line, renameToPrefix) {
		p.pos--
		return p.errorf("'rename to <path>'", line)
	}
	entry.NewPath = strings.TrimPrefix(line, renameToPrefix)
	return nil
}

func (p *parser) parseBinaryBody(entry *models.FileDiffEntry) error {
	line, _ := p.next()
	body := strings.TrimPrefix(line, "Binary files ")
	body, ok := strings.CutSuffix(body, " differ")
	if !ok {
		p.pos--
		return p.errorf("'Binary files <old> and <new> differ'", line)
	}
	oldName, newName, found := strings.Cut(body, " and ")
	if !found {
		p.pos--
		return p.errorf("'Binary files <old> and <new> differ'", line)
	}
	if oldName != devNull {
		entry.OldPath = oldName
	}
	if newName != devNull {
		entry.NewPath = newName
	}

	if line, ok := p.peek(); ok && strings.HasPrefix(line, contentPrefix) {
		content, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, contentPrefix))
		if err != nil {
			return p.errorf("base64 content", "undecodable data")
		}
		entry.Content = content
		p.pos++
	}
	return nil
}

func (p *parser) parseTextBody(entry *models.FileDiffEntry) error {
	line, _ := p.next()
	if name := strings.TrimPrefix(line, oldFilePrefix); name != devNull && entry.OldPath == "" {
		entry.OldPath = name
	}

	line, ok := p.next()
	if !ok || !strings.HasPrefix(line, newFilePrefix) {
		p.pos--
		return p.errorf("'+++ <path>'", line)
	}
	if name := strings.TrimPrefix(line, newFilePrefix); name != devNull && entry.NewPath == "" {
		entry.NewPath = name
	}

	for {
		line, ok := p.peek()
		if !ok || !strings.HasPrefix(line, "@@ ") {
			break
		}
		hunk, err := p.parseHunk()
		if err != nil {
			return err
		}
		entry.Hunks = append(entry.Hunks, *hunk)
	}
	return nil
}

// parseHunk reads one hunk header and exactly the number of body lines the
// header declares. A body that runs short, runs long or carries an unknown
// tag fails here with the precise line, which enforces the count invariant
// at parse time.
func (p *parser) parseHunk() (*models.Hunk, error) {
	line, _ := p.next()
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		p.pos--
		return nil, p.errorf("hunk header '@@ -<start>,<count> +<start>,<count> @@'", line)
	}

	hunk := &models.Hunk{
		OldStart: atoi(m[1]),
		OldCount: atoi(m[2]),
		NewStart: atoi(m[3]),
		NewCount: atoi(m[4]),
	}

	oldRemaining, newRemaining := hunk.OldCount, hunk.NewCount
	for oldRemaining > 0 || newRemaining > 0 {
		raw, ok := p.next()
		if !ok {
			return nil, &models.FormatError{
				Line:     p.lineNo(),
				Expected: fmt.Sprintf("%d more hunk line(s)", oldRemaining+newRemaining),
				Found:    "end of document",
			}
		}

		var tag models.LineTag
		var text string
		switch {
		case raw == "":
			// Tolerated relaxation: an entirely empty line stands for an
			// empty context line, as emitted by some diff tools.
			tag, text = models.LineContext, ""
		case raw[0] == byte(models.LineContext), raw[0] == byte(models.LineRemoved), raw[0] == byte(models.LineAdded):
			tag, text = models.LineTag(raw[0]), raw[1:]
		default:
			p.pos--
			return nil, p.errorf("hunk line starting with ' ', '-' or '+'", raw)
		}

		switch tag {
		case models.LineContext:
			if oldRemaining <= 0 || newRemaining <= 0 {
				p.pos--
				return nil, p.errorf("line counts matching the hunk header", raw)
			}
			oldRemaining--
			newRemaining--
		case models.LineRemoved:
			if oldRemaining <= 0 {
				p.pos--
				return nil, p.errorf("line counts matching the hunk header", raw)
			}
			oldRemaining--
		case models.LineAdded:
			if newRemaining <= 0 {
				p.pos--
				return nil, p.errorf("line counts matching the hunk header", raw)
			}
			newRemaining--
		}

		// Lines carry their newline unless the no-newline marker follows
		if next, ok := p.peek(); ok && next == noNewlineMarker {
			p.pos++
		} else {
			text += "\n"
		}

		hunk.Lines = append(hunk.Lines, models.HunkLine{Tag: tag, Text: text})
	}

	return hunk, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
