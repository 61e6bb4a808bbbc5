// Package session stores draft sessions: the source registry a user is
// building an essay from.
package session

import (
	"context"
	"errors"
	"time"

	"groundwrite/api/internal/sources"
)

// ErrNotFound covers both unknown and expired sessions.
var ErrNotFound = errors.New("draft session not found or expired")

// DefaultTTL applies when a store is built with a non-positive ttl.
const DefaultTTL = 24 * time.Hour

// Draft is one drafting session. Registry is the serialised source registry.
type Draft struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Registry  sources.State `json:"registry"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store persists drafts with a sliding expiry: every Save renews the ttl.
type Store interface {
	Create(ctx context.Context, draft Draft) error
	Get(ctx context.Context, id string) (Draft, error)
	// Save overwrites an existing draft. It never resurrects an expired one.
	Save(ctx context.Context, draft Draft) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
