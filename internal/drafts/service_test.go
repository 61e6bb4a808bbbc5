package drafts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func snapshot(outlineID, text string) Snapshot {
	return Snapshot{
		OutlineID: outlineID,
		Thesis:    "Light powers plants.",
		Text:      text,
		Paragraphs: []ParagraphState{
			{Title: "Mechanism", State: "expanded"},
			{Title: "Open questions", State: "planned", Edited: true},
		},
	}
}

func TestDraftLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	history, err := svc.History("ol_1", 10)
	if err != nil {
		t.Fatalf("History() before first commit error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}

	first, err := svc.Commit(snapshot("ol_1", "First draft."), "Avery Quinn", "")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if first.Hash == "" || first.Message != "Save draft" || first.Author != "Avery Quinn" {
		t.Fatalf("unexpected commit: %+v", first)
	}
	essay, err := os.ReadFile(filepath.Join(tempDir, "ol_1", "essay.md"))
	if err != nil {
		t.Fatalf("read essay.md: %v", err)
	}
	if string(essay) != "First draft.\n" {
		t.Fatalf("essay.md = %q", essay)
	}

	second, err := svc.Commit(snapshot("ol_1", "Second draft."), "Avery Quinn", "Tighten intro")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := svc.Commit(snapshot("ol_1", "Second draft."), "Avery Quinn", "Save again"); err != nil {
		t.Fatalf("unchanged Commit() error = %v", err)
	}

	history, err = svc.History("ol_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[1].Hash != second.Hash || !strings.HasPrefix(history[1].Message, "Tighten intro") {
		t.Fatalf("history not newest first: %+v", history)
	}
	limited, _ := svc.History("ol_1", 1)
	if len(limited) != 1 {
		t.Fatalf("limited history length = %d", len(limited))
	}

	snap, commit, err := svc.Get("ol_1", first.Hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Text != "First draft." || !snap.Paragraphs[1].Edited || commit.Hash != first.Hash {
		t.Fatalf("unexpected snapshot %+v / %+v", snap, commit)
	}
}

func TestDraftNotFoundAndInvalidID(t *testing.T) {
	svc := New(t.TempDir())

	if _, _, err := svc.Get("ol_missing", "abc1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on missing repo error = %v", err)
	}
	if _, err := svc.Commit(snapshot("ol_1", "x"), "A", ""); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, _, err := svc.Get("ol_1", "deadbee"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() unknown hash error = %v", err)
	}
	for _, bad := range []string{"../escape", "", "a/b"} {
		if _, err := svc.Commit(snapshot(bad, "x"), "A", ""); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Commit(%q) error = %v", bad, err)
		}
	}
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Commit(snapshot("ol_c", fmt.Sprintf("draft %d", i)), "A", ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Commit() error = %v", err)
	}
	history, err := svc.History("ol_c", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("history length = %d, want 8", len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Avery Quinn-Lee"); got != "Avery.Quinn.Lee" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!"); got != "user" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
}
