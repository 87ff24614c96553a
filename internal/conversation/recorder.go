// Package conversation appends messages to stored conversations. It is
// shared by the conversations API and by the chat pipeline, which records
// the assistant turn it streamed.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// TitleLength is how many characters of the first user message become the
// conversation title.
const TitleLength = 50

const defaultPersistTimeout = 5 * time.Second

// Option configures a Recorder.
type Option func(*Recorder)

// WithTimeout bounds detached persistence.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		r.timeout = d
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(r *Recorder) {
		r.newID = newID
	}
}

// Recorder writes messages into a ConversationStore on behalf of a principal.
type Recorder struct {
	store   storage.ConversationStore
	logger  *slog.Logger
	timeout time.Duration
	newID   func() string
}

// NewRecorder creates a recorder over store.
func NewRecorder(store storage.ConversationStore, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		timeout: defaultPersistTimeout,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append stores a message in a conversation owned by principal. While the
// conversation still has the default title, the first user message also
// becomes its title. It returns storage.ErrNotFound when the conversation
// does not exist or belongs to someone else.
func (r *Recorder) Append(ctx context.Context, principal, conversationID, role string, parts []domain.Part) (*storage.StoredMessage, error) {
	conv, err := r.store.GetConversation(ctx, conversationID, principal)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parts: %w", err)
	}

	msg := &storage.StoredMessage{
		ID:             r.newID(),
		ConversationID: conversationID,
		Role:           role,
		Parts:          raw,
	}
	if err := r.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}

	if role == domain.RoleUser && conv.Title == storage.DefaultTitle {
		if err := r.maybeTitle(ctx, conversationID, parts); err != nil {
			// the message is stored; a missing title is cosmetic
			r.logger.Warn("failed to set conversation title",
				slog.String("conversation_id", conversationID),
				slog.String("error", err.Error()),
			)
		}
	}

	return msg, nil
}

func (r *Recorder) maybeTitle(ctx context.Context, conversationID string, parts []domain.Part) error {
	n, err := r.store.CountMessages(ctx, conversationID, domain.RoleUser)
	if err != nil {
		return err
	}
	if n != 1 {
		return nil
	}
	return r.store.UpdateTitle(ctx, conversationID, Title(parts))
}

// Title derives a conversation title from a message's parts.
func Title(parts []domain.Part) string {
	msg := domain.Message{Parts: parts}
	text := []rune(msg.FirstText())
	if len(text) == 0 {
		return storage.DefaultTitle
	}
	if len(text) > TitleLength {
		text = text[:TitleLength]
	}
	return string(text)
}

// RecordAssistant stores a streamed assistant turn. It runs on a context
// detached from ctx's cancellation so a client that disconnects after the
// stream still gets its transcript. Failures are logged and swallowed.
func (r *Recorder) RecordAssistant(ctx context.Context, principal, conversationID string, parts []domain.Part) {
	if r == nil || conversationID == "" || len(parts) == 0 {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err := r.Append(persistCtx, principal, conversationID, domain.RoleAssistant, parts)
	if err == nil {
		return
	}

	level := slog.LevelError
	if errors.Is(err, storage.ErrNotFound) {
		level = slog.LevelWarn
	}
	r.logger.LogAttrs(persistCtx, level, "failed to record assistant message",
		slog.String("request_id", middleware.GetRequestID(ctx)),
		slog.String("conversation_id", conversationID),
		slog.String("error", err.Error()),
	)
}
