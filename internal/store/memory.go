package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"groundwrite/api/internal/essay"
)

// MemoryStore keeps outlines in process. It is used when no DATABASE_URL is
// configured, by the CLI and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	outlines map[string]*essay.Outline
	edits    map[string]map[int]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outlines: make(map[string]*essay.Outline),
		edits:    make(map[string]map[int]string),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateOutline(_ context.Context, outline essay.Outline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outlines[outline.ID]; exists {
		return fmt.Errorf("outline %s already exists", outline.ID)
	}
	copied := cloneOutline(outline)
	s.outlines[outline.ID] = &copied
	return nil
}

func (s *MemoryStore) GetOutline(_ context.Context, outlineID string) (essay.Outline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outline, ok := s.outlines[outlineID]
	if !ok {
		return essay.Outline{}, outlineNotFound(outlineID)
	}
	return cloneOutline(*outline), nil
}

func (s *MemoryStore) BeginExpansion(_ context.Context, outlineID string, index int, now, staleBefore time.Time) (essay.Paragraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.paragraphLocked(outlineID, index)
	if err != nil {
		return essay.Paragraph{}, err
	}
	prior := cloneParagraph(*p)
	if p.ExpansionState == essay.StateExpanding && p.UpdatedAt.After(staleBefore) {
		return essay.Paragraph{}, essay.ErrExpansionInProgress
	}
	p.ExpansionState = essay.StateExpanding
	p.UpdatedAt = now
	return prior, nil
}

func (s *MemoryStore) SettleExpansion(_ context.Context, outlineID string, index int, claimedAt time.Time, paragraph essay.Paragraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.paragraphLocked(outlineID, index)
	if err != nil {
		return err
	}
	if p.ExpansionState != essay.StateExpanding || !p.UpdatedAt.Equal(claimedAt) {
		return essay.ErrExpansionSuperseded
	}
	*p = cloneParagraph(paragraph)
	return nil
}

func (s *MemoryStore) SetEdit(_ context.Context, outlineID string, index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.paragraphLocked(outlineID, index); err != nil {
		return err
	}
	if s.edits[outlineID] == nil {
		s.edits[outlineID] = make(map[int]string)
	}
	s.edits[outlineID][index] = text
	return nil
}

func (s *MemoryStore) ClearEdit(_ context.Context, outlineID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.paragraphLocked(outlineID, index); err != nil {
		return err
	}
	delete(s.edits[outlineID], index)
	return nil
}

func (s *MemoryStore) Edits(_ context.Context, outlineID string) (map[int]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outlines[outlineID]; !ok {
		return nil, outlineNotFound(outlineID)
	}
	out := make(map[int]string, len(s.edits[outlineID]))
	for i, text := range s.edits[outlineID] {
		out[i] = text
	}
	return out, nil
}

func (s *MemoryStore) paragraphLocked(outlineID string, index int) (*essay.Paragraph, error) {
	outline, ok := s.outlines[outlineID]
	if !ok {
		return nil, outlineNotFound(outlineID)
	}
	if index < 0 || index >= len(outline.Paragraphs) {
		return nil, paragraphNotFound(outlineID, index)
	}
	return &outline.Paragraphs[index], nil
}

func outlineNotFound(outlineID string) error {
	return &essay.NotFoundError{Resource: "outline", ID: outlineID}
}

func paragraphNotFound(outlineID string, index int) error {
	return &essay.NotFoundError{Resource: "paragraph", ID: outlineID + "/" + strconv.Itoa(index)}
}

func cloneOutline(o essay.Outline) essay.Outline {
	out := o
	out.Request.ChunkRefs = append([]string(nil), o.Request.ChunkRefs...)
	out.Paragraphs = make([]essay.Paragraph, len(o.Paragraphs))
	for i, p := range o.Paragraphs {
		out.Paragraphs[i] = cloneParagraph(p)
	}
	return out
}

func cloneParagraph(p essay.Paragraph) essay.Paragraph {
	out := p
	out.IntendedChunks = append([]essay.ChunkRef(nil), p.IntendedChunks...)
	out.UsedChunks = append([]essay.UsedChunk(nil), p.UsedChunks...)
	out.Citations = append([]essay.Citation(nil), p.Citations...)
	out.UnsupportedFlags = append([]essay.UnsupportedFlag(nil), p.UnsupportedFlags...)
	return out
}
