package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/storage/storagetest"
)

var dbSeq atomic.Int64

// newMemStore opens a uniquely named shared-cache in-memory database.
func newMemStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	store, err := New(dsn, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock func() time.Time) storage.Store {
		return newMemStore(t, WithClock(clock))
	})
}

func TestSQLiteStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socratic.db")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: "persisted"}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	conv, err := reopened.GetConversation(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.Title != "persisted" {
		t.Errorf("Title = %q, want persisted", conv.Title)
	}
}

func TestSQLiteStore_ListInsights(t *testing.T) {
	store := newMemStore(t, WithClock(storagetest.NewClock().Now))
	ctx := context.Background()

	_ = store.SaveInsight(ctx, &storage.Insight{ID: "i1", UserID: "u1", Insight: "first", Topic: "logic"})
	_ = store.SaveInsight(ctx, &storage.Insight{ID: "i2", UserID: "u1", Insight: "second"})

	got, err := store.ListInsights(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListInsights() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListInsights() len = %d, want 2", len(got))
	}
	if got[0].ID != "i2" || got[1].Topic != "logic" {
		t.Errorf("ListInsights() = %+v", got)
	}
}

func TestSQLiteStore_SQLInjectionSafe(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	evil := "x'; DROP TABLE conversations; --"
	if err := store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: evil, Title: evil}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	conv, err := store.GetConversation(ctx, "c1", evil)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.Title != evil {
		t.Errorf("Title = %q", conv.Title)
	}
}
