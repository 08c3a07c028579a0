package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sdejongh/patchnorris/pkg/backup"
	"github.com/sdejongh/patchnorris/pkg/checksum"
	"github.com/sdejongh/patchnorris/pkg/diff"
	"github.com/sdejongh/patchnorris/pkg/models"
	"github.com/sdejongh/patchnorris/pkg/storage"
)

func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, data := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree: %v", err)
	}
	return files
}

func assertTreesEqual(t *testing.T, want, got map[string]string) {
	t.Helper()
	for path, content := range want {
		if got[path] != content {
			t.Errorf("%s: content mismatch\nwant %q\ngot  %q", path, content, got[path])
		}
	}
	for path := range got {
		if _, ok := want[path]; !ok {
			t.Errorf("unexpected file %s in target", path)
		}
	}
}

func makePatch(t *testing.T, oldFiles, newFiles map[string][]byte) *models.PatchDocument {
	t.Helper()
	oldDir := t.TempDir()
	newDir := t.TempDir()
	writeTree(t, oldDir, oldFiles)
	writeTree(t, newDir, newFiles)

	gen := diff.NewGenerator(nil, diff.BinaryDetector{}, nil, models.DefaultOptions())
	doc, err := gen.Create(context.Background(), oldDir, newDir, models.Metadata{})
	if err != nil {
		t.Fatalf("failed to generate patch: %v", err)
	}
	return doc
}

func makeApplier(t *testing.T, target string, opts models.Options) *Applier {
	t.Helper()
	backend, err := storage.NewLocal(target)
	if err != nil {
		t.Fatalf("failed to open target: %v", err)
	}
	var manager *backup.Manager
	if !opts.DryRun {
		manager, err = backup.NewManager(t.TempDir(), "test-op", nil, nil)
		if err != nil {
			t.Fatalf("failed to create backup manager: %v", err)
		}
	}
	return NewApplier(backend, manager, checksum.New(checksum.SHA256, 0), nil, opts)
}

func TestApplyRoundTrip(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{
		"src/app.go":   []byte("package app\n\nvar x = 1\nvar y = 2\n"),
		"README.md":    []byte("# project\nstable\n"),
		"remove.txt":   []byte("this file goes away\n"),
		"data/blob.bn": {0x00, 0x01, 0x02},
	}
	newFiles := map[string][]byte{
		"src/app.go":   []byte("package app\n\nvar x = 10\nvar y = 2\n"),
		"README.md":    []byte("# project\nstable\n"),
		"added.txt":    []byte("fresh content\nsecond line\n"),
		"data/blob.bn": {0x00, 0xaa, 0xbb},
	}

	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)

	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if report.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", report.Status, report.Error)
	}
	if report.Stats.Failed != 0 {
		t.Errorf("expected no failures, got %d", report.Stats.Failed)
	}
	if report.Stats.BytesWritten == 0 {
		t.Error("bytes written should be recorded")
	}

	want := make(map[string]string, len(newFiles))
	for path, data := range newFiles {
		want[path] = string(data)
	}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyIdempotent(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{"f.txt": []byte("one\ntwo\n")}
	newFiles := map[string][]byte{"f.txt": []byte("one\n2\n")}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)

	first := makeApplier(t, target, models.DefaultOptions())
	if _, err := first.Apply(ctx, doc); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	second := makeApplier(t, target, models.DefaultOptions())
	report, err := second.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if report.Status != models.StatusSuccess {
		t.Fatalf("re-apply should succeed, got %s", report.Status)
	}
	if report.Stats.Skipped != 1 {
		t.Errorf("re-applied entry should be skipped, got %d skipped", report.Stats.Skipped)
	}
	if report.Results[0].Reason != "already applied" {
		t.Errorf("unexpected skip reason %q", report.Results[0].Reason)
	}
}

func TestApplyDryRun(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{"f.txt": []byte("one\ntwo\n")}
	newFiles := map[string][]byte{
		"f.txt":   []byte("one\n2\n"),
		"new.txt": []byte("added\n"),
	}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)

	opts := models.DefaultOptions()
	opts.DryRun = true
	applier := makeApplier(t, target, opts)

	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if report.Status != models.StatusSuccess {
		t.Fatalf("dry run should validate cleanly, got %s", report.Status)
	}
	if !report.DryRun {
		t.Error("report should be marked dry-run")
	}

	want := map[string]string{"f.txt": "one\ntwo\n"}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyStrictRollback(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{
		"a.txt": []byte("alpha original\n"),
		"b.txt": []byte("beta original\n"),
	}
	newFiles := map[string][]byte{
		"a.txt": []byte("alpha changed\n"),
		"b.txt": []byte("beta changed\n"),
	}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)
	// Tamper with b.txt so its pre-image hash no longer matches; a.txt
	// applies first (entries are path-ordered), then the halt rolls it back
	os.WriteFile(filepath.Join(target, "b.txt"), []byte("tampered\n"), 0644)

	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("strict halt with a clean rollback should not error: %v", err)
	}
	if report.Status != models.StatusAborted {
		t.Fatalf("expected aborted, got %s", report.Status)
	}
	if len(report.Unrestored) != 0 {
		t.Errorf("rollback left paths unrestored: %v", report.Unrestored)
	}

	want := map[string]string{
		"a.txt": "alpha original\n",
		"b.txt": "tampered\n",
	}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyStrictRollbackAcrossPaths(t *testing.T) {
	ctx := context.Background()
	hasher := checksum.New(checksum.SHA256, 0)

	oldText := []byte("a\nb\nc\n")
	newText := []byte("a\nx\nc\n")
	oldBlob := []byte{0x00, 0x01, 0x02}
	newBlob := []byte{0x00, 0xaa, 0xbb}

	doc := &models.PatchDocument{
		Meta: models.Metadata{Version: models.FormatVersion},
		Entries: []models.FileDiffEntry{
			{
				OldPath: "a.txt",
				NewPath: "b.txt",
				Kind:    models.KindTextModify,
				OldHash: hasher.Sum(oldText),
				NewHash: hasher.Sum(newText),
				Hunks: []models.Hunk{{
					OldStart: 1, OldCount: 3, NewStart: 1, NewCount: 3,
					Lines: []models.HunkLine{
						{Tag: models.LineContext, Text: "a\n"},
						{Tag: models.LineRemoved, Text: "b\n"},
						{Tag: models.LineAdded, Text: "x\n"},
						{Tag: models.LineContext, Text: "c\n"},
					},
				}},
			},
			{
				OldPath: "c.bin",
				NewPath: "d.bin",
				Kind:    models.KindBinaryReplace,
				OldHash: hasher.Sum(oldBlob),
				NewHash: hasher.Sum(newBlob),
				Content: newBlob,
			},
			{
				OldPath: "z.txt",
				Kind:    models.KindDelete,
				OldHash: hasher.Sum([]byte("something else entirely\n")),
			},
		},
	}

	target := t.TempDir()
	writeTree(t, target, map[string][]byte{
		"a.txt": oldText,
		"c.bin": oldBlob,
		"z.txt": []byte("keep me\n"),
	})

	// The two moves apply first, then the delete halts on its stale
	// pre-image hash. The rollback must restore both sources and remove
	// both freshly written destinations.
	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("strict halt with a clean rollback should not error: %v", err)
	}
	if report.Status != models.StatusAborted {
		t.Fatalf("expected aborted, got %s", report.Status)
	}
	if len(report.Unrestored) != 0 {
		t.Errorf("rollback left paths unrestored: %v", report.Unrestored)
	}

	want := map[string]string{
		"a.txt": string(oldText),
		"c.bin": string(oldBlob),
		"z.txt": "keep me\n",
	}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyBestEffort(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{
		"a.txt": []byte("alpha original\n"),
		"b.txt": []byte("beta original\n"),
		"c.txt": []byte("gamma original\n"),
	}
	newFiles := map[string][]byte{
		"a.txt": []byte("alpha changed\n"),
		"b.txt": []byte("beta changed\n"),
		"c.txt": []byte("gamma changed\n"),
	}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)
	os.WriteFile(filepath.Join(target, "b.txt"), []byte("tampered\n"), 0644)

	opts := models.DefaultOptions()
	opts.BestEffort = true
	applier := makeApplier(t, target, opts)

	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("best-effort apply should not error: %v", err)
	}
	if report.Status != models.StatusPartial {
		t.Fatalf("expected partial, got %s", report.Status)
	}
	if report.Stats.Succeeded != 2 || report.Stats.Failed != 1 {
		t.Errorf("expected 2 succeeded / 1 failed, got %d / %d",
			report.Stats.Succeeded, report.Stats.Failed)
	}

	want := map[string]string{
		"a.txt": "alpha changed\n",
		"b.txt": "tampered\n",
		"c.txt": "gamma changed\n",
	}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyFuzzyOffset(t *testing.T) {
	ctx := context.Background()

	var oldContent, newContent []byte
	for i := 0; i < 10; i++ {
		line := []byte("filler line\n")
		oldContent = append(oldContent, line...)
		newContent = append(newContent, line...)
	}
	oldContent = append(oldContent, []byte("target old\nend\n")...)
	newContent = append(newContent, []byte("target new\nend\n")...)

	doc := makePatch(t,
		map[string][]byte{"f.txt": oldContent},
		map[string][]byte{"f.txt": newContent},
	)

	// Drift the target: two extra lines above everything the patch knows
	drifted := append([]byte("inserted one\ninserted two\n"), oldContent...)
	target := t.TempDir()
	writeTree(t, target, map[string][]byte{"f.txt": drifted})

	t.Run("StrictRejectsDrift", func(t *testing.T) {
		strictTarget := t.TempDir()
		writeTree(t, strictTarget, map[string][]byte{"f.txt": drifted})

		applier := makeApplier(t, strictTarget, models.DefaultOptions())
		report, _ := applier.Apply(ctx, doc)
		if report.Status != models.StatusAborted {
			t.Fatalf("strict mode should abort on drifted content, got %s", report.Status)
		}
	})

	t.Run("FuzzyAppliesAtOffset", func(t *testing.T) {
		opts := models.DefaultOptions()
		opts.Mode = models.ModeFuzzy
		applier := makeApplier(t, target, opts)

		report, err := applier.Apply(ctx, doc)
		if err != nil {
			t.Fatalf("fuzzy apply failed: %v", err)
		}
		if report.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", report.Status, report.Error)
		}

		expected := append([]byte("inserted one\ninserted two\n"), newContent...)
		got, _ := os.ReadFile(filepath.Join(target, "f.txt"))
		if string(got) != string(expected) {
			t.Errorf("fuzzy result mismatch\nwant %q\ngot  %q", expected, got)
		}
	})

	t.Run("DriftBeyondWindowFails", func(t *testing.T) {
		farTarget := t.TempDir()
		var far []byte
		for i := 0; i < 50; i++ {
			far = append(far, []byte("pushed down\n")...)
		}
		far = append(far, oldContent...)
		writeTree(t, farTarget, map[string][]byte{"f.txt": far})

		opts := models.DefaultOptions()
		opts.Mode = models.ModeFuzzy
		opts.MaxOffset = 10
		applier := makeApplier(t, farTarget, opts)

		report, _ := applier.Apply(ctx, doc)
		if report.Status != models.StatusAborted {
			t.Fatalf("drift past the window should abort, got %s", report.Status)
		}
		if len(report.Results) == 0 || report.Results[0].HunkIndex < 0 {
			t.Error("hunk-level failure should carry the failing hunk index")
		}
	})
}

func TestApplyRename(t *testing.T) {
	ctx := context.Background()

	oldFiles := map[string][]byte{"old-name.txt": []byte("travelling content\n")}
	newFiles := map[string][]byte{"new-name.txt": []byte("travelling content\n")}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)

	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if report.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", report.Status, report.Error)
	}

	want := map[string]string{"new-name.txt": "travelling content\n"}
	assertTreesEqual(t, want, readTree(t, target))
}

func TestApplyInvalidDocument(t *testing.T) {
	ctx := context.Background()
	target := t.TempDir()

	doc := &models.PatchDocument{
		Meta:    models.Metadata{Version: models.FormatVersion},
		Entries: []models.FileDiffEntry{{Kind: models.KindAdd}},
	}

	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err == nil {
		t.Fatal("invalid document should fail")
	}
	if report != nil {
		t.Error("no report should be produced for an invalid document")
	}
}

func TestApplyCancelled(t *testing.T) {
	oldFiles := map[string][]byte{"f.txt": []byte("one\n")}
	newFiles := map[string][]byte{"f.txt": []byte("two\n")}
	doc := makePatch(t, oldFiles, newFiles)

	target := t.TempDir()
	writeTree(t, target, oldFiles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	applier := makeApplier(t, target, models.DefaultOptions())
	report, err := applier.Apply(ctx, doc)
	if err == nil {
		t.Fatal("cancelled context should surface an error")
	}
	if report == nil || report.Status != models.StatusCancelled {
		t.Fatal("report should mark the operation cancelled")
	}
}
