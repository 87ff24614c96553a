// Package storagetest holds behavior tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// Clock is a manually advanced time source.
type Clock struct {
	t time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant and advances by one second.
func (c *Clock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

// Factory builds a fresh store driven by clock.
type Factory func(t *testing.T, clock func() time.Time) storage.Store

// Run exercises the Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		conv := &storage.Conversation{ID: "c1", UserID: "u1", Title: "Hello"}
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}
		if conv.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}

		got, err := store.GetConversation(ctx, "c1", "u1")
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if got.Title != "Hello" || got.UserID != "u1" {
			t.Errorf("GetConversation() = %+v", got)
		}
		if !got.CreatedAt.Equal(conv.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, conv.CreatedAt)
		}
	})

	t.Run("GetScopedToOwner", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		_ = store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: "t"})

		if _, err := store.GetConversation(ctx, "c1", "u2"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetConversation() other owner error = %v, want ErrNotFound", err)
		}
		if _, err := store.GetConversation(ctx, "missing", "u1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetConversation() missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		for _, id := range []string{"a", "b", "c"} {
			_ = store.CreateConversation(ctx, &storage.Conversation{ID: id, UserID: "u1", Title: id})
		}
		_ = store.CreateConversation(ctx, &storage.Conversation{ID: "x", UserID: "u2", Title: "x"})

		// touching "a" moves it to the front
		if err := store.AddMessage(ctx, &storage.StoredMessage{ID: "m1", ConversationID: "a", Role: "user", Parts: json.RawMessage(`[]`)}); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}

		got, err := store.ListConversations(ctx, "u1", 10)
		if err != nil {
			t.Fatalf("ListConversations() error = %v", err)
		}
		want := []string{"a", "c", "b"}
		if len(got) != len(want) {
			t.Fatalf("ListConversations() len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].ID != want[i] {
				t.Errorf("ListConversations()[%d] = %s, want %s", i, got[i].ID, want[i])
			}
		}

		limited, _ := store.ListConversations(ctx, "u1", 2)
		if len(limited) != 2 {
			t.Errorf("ListConversations(limit 2) len = %d", len(limited))
		}

		none, err := store.ListConversations(ctx, "nobody", 10)
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("ListConversations(nobody) = %v, %v; want empty non-nil", none, err)
		}
	})

	t.Run("Messages", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		_ = store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: "t"})

		parts := json.RawMessage(`[{"type":"text","text":"hi"}]`)
		msgs := []*storage.StoredMessage{
			{ID: "m1", ConversationID: "c1", Role: "user", Parts: parts},
			{ID: "m2", ConversationID: "c1", Role: "assistant", Parts: json.RawMessage(`[{"type":"text","text":"why?"}]`)},
			{ID: "m3", ConversationID: "c1", Role: "user", Parts: parts},
		}
		for _, m := range msgs {
			if err := store.AddMessage(ctx, m); err != nil {
				t.Fatalf("AddMessage(%s) error = %v", m.ID, err)
			}
		}

		got, err := store.ListMessages(ctx, "c1")
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListMessages() len = %d, want 3", len(got))
		}
		for i, m := range got {
			if m.ID != msgs[i].ID {
				t.Errorf("ListMessages()[%d] = %s, want %s", i, m.ID, msgs[i].ID)
			}
		}
		if string(got[0].Parts) != string(parts) {
			t.Errorf("Parts = %s, want %s", got[0].Parts, parts)
		}

		n, err := store.CountMessages(ctx, "c1", "user")
		if err != nil || n != 2 {
			t.Errorf("CountMessages(user) = %d, %v; want 2", n, err)
		}

		conv, _ := store.GetConversation(ctx, "c1", "u1")
		if !conv.UpdatedAt.Equal(got[2].CreatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", conv.UpdatedAt, got[2].CreatedAt)
		}

		err = store.AddMessage(ctx, &storage.StoredMessage{ID: "m9", ConversationID: "missing", Role: "user", Parts: parts})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("AddMessage(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateTitle", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		_ = store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: storage.DefaultTitle})
		if err := store.UpdateTitle(ctx, "c1", "Justice"); err != nil {
			t.Fatalf("UpdateTitle() error = %v", err)
		}
		conv, _ := store.GetConversation(ctx, "c1", "u1")
		if conv.Title != "Justice" {
			t.Errorf("Title = %q, want Justice", conv.Title)
		}
		if err := store.UpdateTitle(ctx, "missing", "x"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("UpdateTitle(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		_ = store.CreateConversation(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: "t"})
		_ = store.AddMessage(ctx, &storage.StoredMessage{ID: "m1", ConversationID: "c1", Role: "user", Parts: json.RawMessage(`[]`)})

		deleted, err := store.DeleteConversation(ctx, "c1", "u2")
		if err != nil || deleted {
			t.Fatalf("DeleteConversation(other owner) = %v, %v; want false", deleted, err)
		}

		deleted, err = store.DeleteConversation(ctx, "c1", "u1")
		if err != nil || !deleted {
			t.Fatalf("DeleteConversation() = %v, %v; want true", deleted, err)
		}
		if _, err := store.GetConversation(ctx, "c1", "u1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetConversation() after delete error = %v", err)
		}
		msgs, _ := store.ListMessages(ctx, "c1")
		if len(msgs) != 0 {
			t.Errorf("ListMessages() after delete len = %d", len(msgs))
		}

		deleted, _ = store.DeleteConversation(ctx, "c1", "u1")
		if deleted {
			t.Error("second DeleteConversation() reported true")
		}
	})

	t.Run("SaveInsight", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		in := &storage.Insight{ID: "i1", UserID: "u1", Insight: "Virtue is knowledge", Topic: "ethics"}
		if err := store.SaveInsight(ctx, in); err != nil {
			t.Fatalf("SaveInsight() error = %v", err)
		}
		if in.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
		if err := store.SaveInsight(ctx, &storage.Insight{ID: "i2", UserID: "u1", Insight: "untopical"}); err != nil {
			t.Fatalf("SaveInsight() without topic error = %v", err)
		}
	})

	t.Run("ListInsights", func(t *testing.T) {
		store := newStore(t, NewClock().Now)
		ctx := context.Background()

		for _, in := range []*storage.Insight{
			{ID: "i1", UserID: "u1", Insight: "first", Topic: "logic"},
			{ID: "i2", UserID: "u2", Insight: "other"},
			{ID: "i3", UserID: "u1", Insight: "second"},
			{ID: "i4", UserID: "u1", Insight: "third"},
		} {
			if err := store.SaveInsight(ctx, in); err != nil {
				t.Fatalf("SaveInsight(%s) error = %v", in.ID, err)
			}
		}

		all, err := store.ListInsights(ctx, "u1", 0)
		if err != nil {
			t.Fatalf("ListInsights() error = %v", err)
		}
		var ids []string
		for _, in := range all {
			ids = append(ids, in.ID)
		}
		if strings.Join(ids, ",") != "i4,i3,i1" {
			t.Errorf("ListInsights() = %v, want i4,i3,i1", ids)
		}

		limited, _ := store.ListInsights(ctx, "u1", 2)
		if len(limited) != 2 || limited[0].ID != "i4" {
			t.Errorf("ListInsights(limit 2) = %+v", limited)
		}

		none, err := store.ListInsights(ctx, "nobody", 10)
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("ListInsights(nobody) = %v, %v; want empty non-nil", none, err)
		}
	})
}
