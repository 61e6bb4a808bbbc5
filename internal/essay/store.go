package essay

import (
	"context"
	"time"
)

// Store persists outlines. Paragraph writes are addressed by index so that
// concurrent expansions of different paragraphs never overwrite each other.
type Store interface {
	CreateOutline(ctx context.Context, outline Outline) error
	// GetOutline returns *NotFoundError for unknown ids.
	GetOutline(ctx context.Context, outlineID string) (Outline, error)
	// BeginExpansion atomically moves a paragraph to Expanding and returns the
	// paragraph as it was before. It returns ErrExpansionInProgress when the
	// paragraph is already Expanding and was last touched after staleBefore.
	BeginExpansion(ctx context.Context, outlineID string, index int, now, staleBefore time.Time) (Paragraph, error)
	// SettleExpansion writes the outcome of the expansion that BeginExpansion
	// marked at claimedAt. It returns ErrExpansionSuperseded when the
	// paragraph no longer carries that mark.
	SettleExpansion(ctx context.Context, outlineID string, index int, claimedAt time.Time, paragraph Paragraph) error
	SetEdit(ctx context.Context, outlineID string, index int, text string) error
	ClearEdit(ctx context.Context, outlineID string, index int) error
	Edits(ctx context.Context, outlineID string) (map[int]string, error)
}
