package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*storage.Conversation
	messages      map[string][]*storage.StoredMessage
	insights      []*storage.Insight
	seq           map[string]int
	nextSeq       int
	now           func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store
func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*storage.Conversation),
		messages:      make(map[string][]*storage.StoredMessage),
		seq:           make(map[string]int),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateConversation(ctx context.Context, conv *storage.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}

	now := s.now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	stored := *conv
	s.conversations[conv.ID] = &stored
	s.nextSeq++
	s.seq[conv.ID] = s.nextSeq
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id, userID string) (*storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists || conv.UserID != userID {
		return nil, storage.ErrNotFound
	}

	out := *conv
	return &out, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*storage.Conversation{}
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		c := *conv
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return s.seq[result[i].ID] > s.seq[result[j].ID]
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists || conv.UserID != userID {
		return false, nil
	}

	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.seq, id)
	return true, nil
}

func (s *Store) AddMessage(ctx context.Context, msg *storage.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[msg.ConversationID]
	if !exists {
		return storage.ErrNotFound
	}

	msg.CreatedAt = s.now()
	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*storage.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*storage.StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID, role string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages[conversationID] {
		if m.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return storage.ErrNotFound
	}
	conv.Title = title
	return nil
}

func (s *Store) SaveInsight(ctx context.Context, insight *storage.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	insight.CreatedAt = s.now()
	stored := *insight
	s.insights = append(s.insights, &stored)
	return nil
}

func (s *Store) ListInsights(ctx context.Context, userID string, limit int) ([]*storage.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*storage.Insight{}
	for i := len(s.insights) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.insights[i].UserID == userID {
			c := *s.insights[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
