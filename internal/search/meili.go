package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"groundwrite/api/internal/logger"
)

const idxChunks = "groundwrite_chunks"

// Meili implements chunkIndex via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *logger.Logger
}

// NewMeili creates a Meilisearch client and configures the chunk index.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.Nop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    log,
	}

	if _, err := client.Health(); err != nil {
		log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxChunks,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create chunk index (may already exist)", "error", err)
	}

	index := m.client.Index(idxChunks)
	filterable := []interface{}{"sessionId", "revision", "group"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "index", idxChunks, "error", err)
	}
	searchable := []string{"excerptText", "displayName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "index", idxChunks, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring chunk index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexChunks upserts docs. Meilisearch applies the write asynchronously.
func (m *Meili) IndexChunks(_ context.Context, docs []ChunkDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxChunks).AddDocuments(docs, nil); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// Search returns chunk labels for q, best first. Only documents written for
// q.Revision match, so chunks from an older registry state never surface.
func (m *Meili) Search(_ context.Context, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 5
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxChunks,
			Query:    q.Text,
			Limit:    limit,
			Filter:   []string{revisionFilter(q.SessionID, q.Revision)},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	var labels []string
	for _, result := range resp.Results {
		for _, hit := range result.Hits {
			if label := decodeString(hit, "label"); label != "" {
				labels = append(labels, label)
			}
		}
	}
	return labels, nil
}

func revisionFilter(sessionID string, revision int64) string {
	return fmt.Sprintf("sessionId = %q AND revision = %d", sessionID, revision)
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
