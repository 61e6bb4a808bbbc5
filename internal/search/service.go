package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to
// lexical ranking over the chunks the caller passes in.
type Service struct {
	index   chunkIndex
	log     *logger.Logger
	mu      sync.Mutex
	indexed map[string]string
}

// NewService creates a search service. m may be nil if Meilisearch is not configured.
func NewService(m *Meili, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{log: log, indexed: make(map[string]string)}
	if m != nil {
		s.index = m
	}
	return s
}

// Discover implements essay.Discoverer. Remote hits are resolved against
// chunks, so a label missing from the current index is never returned.
func (s *Service) Discover(ctx context.Context, sessionID string, revision int64, query string, chunks []evidence.Chunk, limit int) ([]string, error) {
	if limit <= 0 || len(chunks) == 0 {
		return nil, nil
	}
	if s.index != nil && s.index.Healthy() {
		labels, err := s.remote(ctx, sessionID, revision, query, chunks, limit)
		if err == nil && len(labels) > 0 {
			return labels, nil
		}
		if err != nil {
			s.log.Warn("chunk search failed, falling back to lexical ranking", "session_id", sessionID, "error", err)
		}
	}
	return lexical(chunks, query, limit), nil
}

func (s *Service) remote(ctx context.Context, sessionID string, revision int64, query string, chunks []evidence.Chunk, limit int) ([]string, error) {
	if err := s.ensureIndexed(ctx, sessionID, revision, chunks); err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, Query{SessionID: sessionID, Revision: revision, Text: query, Limit: limit + len(chunks)})
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(chunks))
	for _, chunk := range chunks {
		allowed[chunk.Label] = true
	}
	labels := make([]string, 0, limit)
	for _, label := range hits {
		if !allowed[label] {
			continue
		}
		allowed[label] = false
		labels = append(labels, label)
		if len(labels) == limit {
			break
		}
	}
	return labels, nil
}

// ensureIndexed writes chunks once per session, revision and chunk set.
func (s *Service) ensureIndexed(ctx context.Context, sessionID string, revision int64, chunks []evidence.Chunk) error {
	fingerprint := chunkFingerprint(revision, chunks)
	s.mu.Lock()
	done := s.indexed[sessionID] == fingerprint
	s.mu.Unlock()
	if done {
		return nil
	}

	docs := make([]ChunkDoc, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, ChunkDoc{
			ID:           docID(sessionID, chunk.Label),
			SessionID:    sessionID,
			Revision:     revision,
			Label:        chunk.Label,
			SourceItemID: chunk.SourceItemID,
			Group:        string(chunk.Group),
			DisplayName:  chunk.DisplayName,
			ExcerptText:  chunk.ExcerptText,
			Priority:     chunk.Priority,
		})
	}
	if err := s.index.IndexChunks(ctx, docs); err != nil {
		return err
	}
	s.mu.Lock()
	s.indexed[sessionID] = fingerprint
	s.mu.Unlock()
	return nil
}

func chunkFingerprint(revision int64, chunks []evidence.Chunk) string {
	h := sha256.New()
	var rev [8]byte
	for i := 0; i < 8; i++ {
		rev[i] = byte(revision >> (8 * i))
	}
	h.Write(rev[:])
	for _, chunk := range chunks {
		h.Write([]byte(chunk.Label))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func lexical(chunks []evidence.Chunk, query string, limit int) []string {
	ranked := evidence.Rank(chunks, query, limit)
	labels := make([]string, 0, len(ranked))
	for _, r := range ranked {
		labels = append(labels, r.Chunk.Label)
	}
	return labels
}
