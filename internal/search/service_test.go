package search

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"groundwrite/api/internal/evidence"
	"groundwrite/api/internal/sources"
)

type fakeIndex struct {
	healthy   bool
	hits      []string
	searchErr error
	indexed   [][]ChunkDoc
	queries   []Query
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) IndexChunks(_ context.Context, docs []ChunkDoc) error {
	f.indexed = append(f.indexed, docs)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, q Query) ([]string, error) {
	f.queries = append(f.queries, q)
	return f.hits, f.searchErr
}

func testChunks() []evidence.Chunk {
	r := sources.New()
	_, _ = r.Add(sources.GroupReferences, sources.Content{ID: "R1", ExcerptText: "Chlorophyll absorbs red and blue light."}, sources.OriginFile)
	_, _ = r.Add(sources.GroupReferences, sources.Content{ID: "R2", ExcerptText: "Stomata regulate gas exchange."}, sources.OriginFile)
	_, _ = r.Add(sources.GroupNotes, sources.Content{ID: "N1", ExcerptText: "Ask about light efficiency."}, sources.OriginPastedText)
	return evidence.Index(r.Items())
}

func TestDiscoverWithoutMeiliUsesLexicalRanking(t *testing.T) {
	s := NewService(nil, nil)
	labels, err := s.Discover(context.Background(), "ds_1", 3, "how chlorophyll uses light", testChunks(), 2)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if want := []string{"R1:p1", "N1:p1"}; !reflect.DeepEqual(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
}

func TestDiscoverUsesRemoteHitsAndDropsStaleLabels(t *testing.T) {
	idx := &fakeIndex{healthy: true, hits: []string{"R9:p1", "R2:p1", "R2:p1", "R1:p1"}}
	s := NewService(nil, nil)
	s.index = idx

	labels, err := s.Discover(context.Background(), "ds_1", 3, "gas exchange", testChunks(), 5)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if want := []string{"R2:p1", "R1:p1"}; !reflect.DeepEqual(labels, want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	if len(idx.indexed) != 1 || len(idx.indexed[0]) != 3 {
		t.Fatalf("expected one indexing pass of 3 docs, got %v", idx.indexed)
	}
	doc := idx.indexed[0][0]
	if doc.SessionID != "ds_1" || doc.Revision != 3 || doc.ID != docID("ds_1", "R1:p1") {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if idx.queries[0].Revision != 3 || idx.queries[0].SessionID != "ds_1" {
		t.Fatalf("query not scoped to revision: %+v", idx.queries[0])
	}

	if _, err := s.Discover(context.Background(), "ds_1", 3, "gas exchange", testChunks(), 5); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(idx.indexed) != 1 {
		t.Fatalf("same revision re-indexed: %d passes", len(idx.indexed))
	}
	if _, err := s.Discover(context.Background(), "ds_1", 4, "gas exchange", testChunks(), 5); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(idx.indexed) != 2 {
		t.Fatalf("new revision not re-indexed: %d passes", len(idx.indexed))
	}
}

func TestDiscoverFallsBack(t *testing.T) {
	tests := []struct {
		name string
		idx  *fakeIndex
	}{
		{name: "unhealthy", idx: &fakeIndex{healthy: false, hits: []string{"R2:p1"}}},
		{name: "search error", idx: &fakeIndex{healthy: true, searchErr: errors.New("boom")}},
		{name: "no usable hits", idx: &fakeIndex{healthy: true, hits: []string{"ZZ:p1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(nil, nil)
			s.index = tt.idx
			labels, err := s.Discover(context.Background(), "ds_1", 1, "chlorophyll", testChunks(), 1)
			if err != nil {
				t.Fatalf("Discover() error = %v", err)
			}
			if want := []string{"R1:p1"}; !reflect.DeepEqual(labels, want) {
				t.Fatalf("labels = %v, want %v", labels, want)
			}
		})
	}
}

func TestDocIDIsMeiliSafe(t *testing.T) {
	id := docID("ds_abc", "R1.v2:p3")
	for _, r := range id {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			t.Fatalf("doc id %q contains %q", id, r)
		}
	}
}

func TestRevisionFilter(t *testing.T) {
	if got := revisionFilter("ds_1", 7); got != `sessionId = "ds_1" AND revision = 7` {
		t.Fatalf("revisionFilter() = %s", got)
	}
}
