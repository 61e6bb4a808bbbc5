package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSlidingExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour)
	store.now = func() time.Time { return now }

	if err := store.Create(ctx, sampleDraft("ds_1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now = now.Add(50 * time.Minute)
	draft, err := store.Get(ctx, "ds_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := store.Save(ctx, draft); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	now = now.Add(50 * time.Minute)
	if _, err := store.Get(ctx, "ds_1"); err != nil {
		t.Fatalf("save should renew ttl: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Get(ctx, "ds_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, draft); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save resurrected expired draft: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	_ = store.Create(ctx, sampleDraft("ds_1"))

	got, _ := store.Get(ctx, "ds_1")
	got.Registry.Items[0].ExcerptText = "changed"

	again, _ := store.Get(ctx, "ds_1")
	if again.Registry.Items[0].ExcerptText == "changed" {
		t.Fatal("mutation of returned draft leaked into the store")
	}
}
