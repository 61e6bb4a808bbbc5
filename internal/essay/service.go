package essay

import (
	"context"
	"time"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/generation"
	"groundwrite/api/internal/logger"
	"groundwrite/api/internal/util"
)

// EvidenceSource returns a freshly computed evidence index for a draft
// session together with the registry revision it was computed from.
type EvidenceSource interface {
	Evidence(ctx context.Context, sessionID string) ([]evidence.Chunk, int64, error)
}

// EvidenceFunc adapts a function to EvidenceSource.
type EvidenceFunc func(ctx context.Context, sessionID string) ([]evidence.Chunk, int64, error)

func (f EvidenceFunc) Evidence(ctx context.Context, sessionID string) ([]evidence.Chunk, int64, error) {
	return f(ctx, sessionID)
}

// Discoverer finds chunks relevant to query among chunks. It returns labels,
// best first.
type Discoverer interface {
	Discover(ctx context.Context, sessionID string, revision int64, query string, chunks []evidence.Chunk, limit int) ([]string, error)
}

type lexicalDiscoverer struct{}

func (lexicalDiscoverer) Discover(_ context.Context, _ string, _ int64, query string, chunks []evidence.Chunk, limit int) ([]string, error) {
	ranked := evidence.Rank(chunks, query, limit)
	labels := make([]string, 0, len(ranked))
	for _, r := range ranked {
		labels = append(labels, r.Chunk.Label)
	}
	return labels, nil
}

type Options struct {
	// Timeout bounds a single paragraph generation call. Zero means 90s.
	Timeout time.Duration
	// SearchLimit caps how many unplanned chunks an expansion may discover.
	SearchLimit int
	Discoverer  Discoverer
	Logger      *logger.Logger
	Now         func() time.Time
	NewID       func() string
}

type Service struct {
	gen         generation.Generator
	store       Store
	evidence    EvidenceSource
	discover    Discoverer
	log         *logger.Logger
	timeout     time.Duration
	searchLimit int
	now         func() time.Time
	newID       func() string
}

func NewService(gen generation.Generator, store Store, source EvidenceSource, opts Options) *Service {
	s := &Service{
		gen:         gen,
		store:       store,
		evidence:    source,
		discover:    opts.Discoverer,
		log:         opts.Logger,
		timeout:     opts.Timeout,
		searchLimit: opts.SearchLimit,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if s.discover == nil {
		s.discover = lexicalDiscoverer{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.timeout <= 0 {
		s.timeout = 90 * time.Second
	}
	if s.searchLimit < 0 {
		s.searchLimit = 0
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return util.NewID("ol") }
	}
	return s
}

func (s *Service) Outline(ctx context.Context, outlineID string) (Outline, error) {
	return s.store.GetOutline(ctx, outlineID)
}
