package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"groundwrite/api/internal/essay"
)

func sampleOutline(id string) essay.Outline {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return essay.Outline{
		ID:        id,
		SessionID: "ds_1",
		Thesis:    "Light drives plant growth.",
		Request:   essay.PlanRequest{Prompt: "Explain photosynthesis", TargetWordCount: 300, Mode: essay.ModeGrounded},
		Paragraphs: []essay.Paragraph{
			{Title: "Intro", ExpansionState: essay.StatePlanned, SuggestedWordCount: 150, UpdatedAt: created},
			{Title: "Mechanism", ExpansionState: essay.StatePlanned, SuggestedWordCount: 150, UpdatedAt: created,
				IntendedChunks: []essay.ChunkRef{{Label: "R1:p1", ExcerptText: "Photosynthesis converts light to chemical energy."}}},
		},
		CreatedAt: created,
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateOutline(ctx, sampleOutline("ol_1")); err != nil {
		t.Fatalf("CreateOutline() error = %v", err)
	}
	got, _ := s.GetOutline(ctx, "ol_1")
	got.Paragraphs[1].IntendedChunks[0].Label = "mutated"
	got.Paragraphs[0].Title = "mutated"

	again, _ := s.GetOutline(ctx, "ol_1")
	if again.Paragraphs[0].Title != "Intro" || again.Paragraphs[1].IntendedChunks[0].Label != "R1:p1" {
		t.Fatalf("store state leaked through returned outline: %+v", again.Paragraphs)
	}
	if err := s.CreateOutline(ctx, sampleOutline("ol_1")); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestMemoryStoreBeginExpansion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateOutline(ctx, sampleOutline("ol_1"))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	prior, err := s.BeginExpansion(ctx, "ol_1", 0, now, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("BeginExpansion() error = %v", err)
	}
	if prior.ExpansionState != essay.StatePlanned {
		t.Fatalf("prior state = %s", prior.ExpansionState)
	}
	if _, err := s.BeginExpansion(ctx, "ol_1", 0, now, now.Add(-time.Minute)); !errors.Is(err, essay.ErrExpansionInProgress) {
		t.Fatalf("expected in-progress error, got %v", err)
	}
	if _, err := s.BeginExpansion(ctx, "ol_1", 1, now, now.Add(-time.Minute)); err != nil {
		t.Fatalf("sibling BeginExpansion() error = %v", err)
	}

	later := now.Add(10 * time.Minute)
	if _, err := s.BeginExpansion(ctx, "ol_1", 0, later, later.Add(-time.Minute)); err != nil {
		t.Fatalf("stale expanding mark should be reclaimable: %v", err)
	}
}

func TestMemoryStoreLateSettleAfterReclaimIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateOutline(ctx, sampleOutline("ol_1"))
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	prior, err := s.BeginExpansion(ctx, "ol_1", 0, first, first.Add(-time.Minute))
	if err != nil {
		t.Fatalf("BeginExpansion() error = %v", err)
	}

	second := first.Add(10 * time.Minute)
	if _, err := s.BeginExpansion(ctx, "ol_1", 0, second, second.Add(-time.Minute)); err != nil {
		t.Fatalf("reclaim BeginExpansion() error = %v", err)
	}
	newer := prior
	newer.ExpansionState = essay.StateExpanded
	newer.ExpandedText = "Newer text."
	if err := s.SettleExpansion(ctx, "ol_1", 0, second, newer); err != nil {
		t.Fatalf("SettleExpansion() error = %v", err)
	}

	late := prior
	late.ExpansionState = essay.StateExpanded
	late.ExpandedText = "Late text."
	if err := s.SettleExpansion(ctx, "ol_1", 0, first, late); !errors.Is(err, essay.ErrExpansionSuperseded) {
		t.Fatalf("late SettleExpansion() error = %v, want ErrExpansionSuperseded", err)
	}
	got, _ := s.GetOutline(ctx, "ol_1")
	if got.Paragraphs[0].ExpandedText != "Newer text." {
		t.Fatalf("late settle overwrote newer result: %q", got.Paragraphs[0].ExpandedText)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateOutline(ctx, sampleOutline("ol_1"))

	var notFound *essay.NotFoundError
	if _, err := s.GetOutline(ctx, "nope"); !errors.As(err, &notFound) || notFound.Resource != "outline" {
		t.Fatalf("GetOutline() error = %v", err)
	}
	if err := s.SettleExpansion(ctx, "ol_1", 5, time.Now(), essay.Paragraph{}); !errors.As(err, &notFound) || notFound.Resource != "paragraph" {
		t.Fatalf("SettleExpansion() error = %v", err)
	}
	if err := s.SetEdit(ctx, "ol_1", -1, "x"); !errors.As(err, &notFound) {
		t.Fatalf("SetEdit() error = %v", err)
	}
}

func TestMemoryStoreEdits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateOutline(ctx, sampleOutline("ol_1"))

	if err := s.SetEdit(ctx, "ol_1", 1, "my words"); err != nil {
		t.Fatalf("SetEdit() error = %v", err)
	}
	edits, err := s.Edits(ctx, "ol_1")
	if err != nil || edits[1] != "my words" {
		t.Fatalf("Edits() = %v, %v", edits, err)
	}
	if err := s.ClearEdit(ctx, "ol_1", 1); err != nil {
		t.Fatalf("ClearEdit() error = %v", err)
	}
	edits, _ = s.Edits(ctx, "ol_1")
	if _, ok := edits[1]; ok {
		t.Fatalf("edit not cleared: %v", edits)
	}
}
