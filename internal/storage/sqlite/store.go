package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
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

// New opens (or creates) the database at dbPath and ensures the schema.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			insight TEXT NOT NULL,
			topic TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *storage.Conversation) error {
	now := s.now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := `INSERT INTO conversations (id, user_id, title, created_at, updated_at)
	          VALUES (:id, :user_id, :title, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, conv); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id, userID string) (*storage.Conversation, error) {
	query := `SELECT id, user_id, title, created_at, updated_at
	          FROM conversations WHERE id = ? AND user_id = ?`

	var conv storage.Conversation
	err := s.db.GetContext(ctx, &conv, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*storage.Conversation, error) {
	query := `SELECT id, user_id, title, created_at, updated_at
	          FROM conversations WHERE user_id = ?
	          ORDER BY updated_at DESC, rowid DESC
	          LIMIT ?`

	convs := []*storage.Conversation{}
	if err := s.db.SelectContext(ctx, &convs, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	// foreign_keys is per-connection in SQLite, so cascade explicitly
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

// messageRow is the scan target for messages; parts are stored as TEXT.
type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"`
	Parts          string    `db:"parts"`
	CreatedAt      time.Time `db:"created_at"`
}

func (s *Store) AddMessage(ctx context.Context, msg *storage.StoredMessage) error {
	msg.CreatedAt = s.now()
	parts := string(msg.Parts)
	if parts == "" {
		parts = "[]"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, parts, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, parts, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*storage.StoredMessage, error) {
	query := `SELECT id, conversation_id, role, parts, created_at
	          FROM messages WHERE conversation_id = ?
	          ORDER BY created_at ASC, rowid ASC`

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]*storage.StoredMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, &storage.StoredMessage{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           r.Role,
			Parts:          []byte(r.Parts),
			CreatedAt:      r.CreatedAt,
		})
	}
	return msgs, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID, role string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ?`, conversationID, role)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SaveInsight(ctx context.Context, insight *storage.Insight) error {
	insight.CreatedAt = s.now()

	query := `INSERT INTO insights (id, user_id, insight, topic, created_at)
	          VALUES (:id, :user_id, :insight, :topic, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, insight); err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

func (s *Store) ListInsights(ctx context.Context, userID string, limit int) ([]*storage.Insight, error) {
	if limit <= 0 {
		// sqlite reads a negative LIMIT as no limit
		limit = -1
	}
	insights := []*storage.Insight{}
	err := s.db.SelectContext(ctx, &insights,
		`SELECT id, user_id, insight, COALESCE(topic, '') AS topic, created_at
		 FROM insights WHERE user_id = ? ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return insights, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
