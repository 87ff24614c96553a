// Package storage defines the persistence interfaces for conversations,
// their messages, and saved insights.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist or is owned by a
// different principal.
var ErrNotFound = errors.New("not found")

// DefaultTitle is given to conversations created without a title.
const DefaultTitle = "New conversation"

// Conversation is a titled thread owned by one principal.
type Conversation struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// StoredMessage is a persisted message. Parts holds the client's part array
// as JSON.
type StoredMessage struct {
	ID             string
	ConversationID string
	Role           string
	Parts          json.RawMessage
	CreatedAt      time.Time
}

// Insight is a user breakthrough saved by the saveInsight tool.
type Insight struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Insight   string    `db:"insight"`
	Topic     string    `db:"topic"`
	CreatedAt time.Time `db:"created_at"`
}

// ConversationStore persists conversations and messages. Every lookup by id
// is scoped to the owning principal.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	// ListConversations returns the principal's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	// DeleteConversation removes a conversation and its messages. It reports
	// false when nothing matched.
	DeleteConversation(ctx context.Context, id, userID string) (bool, error)

	// AddMessage appends a message and bumps the conversation's updated_at.
	AddMessage(ctx context.Context, msg *StoredMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]*StoredMessage, error)
	CountMessages(ctx context.Context, conversationID, role string) (int, error)
	UpdateTitle(ctx context.Context, id, title string) error
}

// InsightStore persists insights.
type InsightStore interface {
	SaveInsight(ctx context.Context, insight *Insight) error
}

// InsightLister reads insights back.
type InsightLister interface {
	// ListInsights returns the principal's insights, newest first. A
	// non-positive limit returns all of them.
	ListInsights(ctx context.Context, userID string, limit int) ([]*Insight, error)
}

// Store is the full persistence surface.
type Store interface {
	ConversationStore
	InsightStore
	InsightLister
	Close() error
}
