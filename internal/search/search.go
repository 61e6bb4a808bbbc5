// Package search finds evidence chunks relevant to a paragraph. Meilisearch
// is used when it is healthy; lexical overlap ranking is the fallback.
package search

import (
	"context"
	"fmt"
)

// ChunkDoc is the document we index for an evidence chunk.
type ChunkDoc struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	Revision     int64  `json:"revision"`
	Label        string `json:"label"`
	SourceItemID string `json:"sourceItemId"`
	Group        string `json:"group"`
	DisplayName  string `json:"displayName"`
	ExcerptText  string `json:"excerptText"`
	Priority     bool   `json:"priority"`
}

// Query describes a chunk search restricted to one registry revision.
type Query struct {
	SessionID string
	Revision  int64
	Text      string
	Limit     int
}

// chunkIndex is the remote index behind Service.
type chunkIndex interface {
	Healthy() bool
	IndexChunks(ctx context.Context, docs []ChunkDoc) error
	Search(ctx context.Context, q Query) ([]string, error)
}

// docID is stable per session and label. Meilisearch ids allow only
// alphanumerics, hyphens and underscores, so the label is hex encoded.
func docID(sessionID, label string) string {
	return fmt.Sprintf("%s-%x", sessionID, label)
}
