// Package conversations serves the conversation history API.
package conversations

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/conversation"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/validation"
)

// Handler handles conversation requests. Every handler expects the
// principal set by frontdoor.Admission.
type Handler struct {
	store    storage.ConversationStore
	recorder *conversation.Recorder
	validate *validator.Validate
	logger   *slog.Logger
	newID    func() string
}

// NewHandler creates a conversations handler.
func NewHandler(store storage.ConversationStore, recorder *conversation.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Routes mounts the handlers on r, relative to the conversations prefix.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleCreate)
	r.Get("/{conversationID}", h.HandleGet)
	r.Delete("/{conversationID}", h.HandleDelete)
	r.Post("/{conversationID}/messages", h.HandleAddMessage)
}

// Request/response types
type CreateRequest struct {
	Title *string `json:"title" validate:"omitempty,max=200"`
}

// AddMessageRequest carries the message parts as content. Parts is
// accepted as an alias.
type AddMessageRequest struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Parts   json.RawMessage `json:"parts"`
}

type ConversationResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListResponse wraps the caller's conversations.
type ListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// DeleteResponse acknowledges a deletion.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ConversationDetail is a conversation with its messages in order.
type ConversationDetail struct {
	ConversationResponse
	Messages []MessageResponse `json:"messages"`
}

type MessageResponse struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// HandleList returns the caller's conversations, most recent first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal := frontdoor.PrincipalFrom(r.Context())

	convs, err := h.store.ListConversations(r.Context(), principal, frontdoor.ListLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.serverError(w, r, "list conversations", err)
		return
	}

	out := ListResponse{Conversations: make([]ConversationResponse, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationResponse(c))
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// HandleCreate creates an empty conversation.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		middleware.WriteError(w, r, apiErr)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		middleware.WriteError(w, r, domain.ErrInvalidRequest(domain.MsgInvalidRequestBody).WithCause(err))
		return
	}

	conv := &storage.Conversation{
		ID:     h.newID(),
		UserID: frontdoor.PrincipalFrom(r.Context()),
		Title:  storage.DefaultTitle,
	}
	if req.Title != nil && *req.Title != "" {
		conv.Title = *req.Title
	}
	if err := h.store.CreateConversation(r.Context(), conv); err != nil {
		h.serverError(w, r, "create conversation", err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, conversationResponse(conv))
}

// HandleGet returns a conversation with its messages.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	conv, err := h.store.GetConversation(r.Context(), id, frontdoor.PrincipalFrom(r.Context()))
	if err != nil {
		h.lookupError(w, r, "get conversation", err)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.serverError(w, r, "list messages", err)
		return
	}

	resp := ConversationDetail{
		ConversationResponse: conversationResponse(conv),
		Messages:             make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// HandleDelete deletes a conversation and its messages.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	deleted, err := h.store.DeleteConversation(r.Context(), id, frontdoor.PrincipalFrom(r.Context()))
	if err != nil {
		h.serverError(w, r, "delete conversation", err)
		return
	}
	if !deleted {
		middleware.WriteError(w, r, domain.ErrNotFound())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, DeleteResponse{Deleted: true})
}

// HandleAddMessage appends a message to a conversation.
func (h *Handler) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req AddMessageRequest
	if apiErr := h.decode(w, r, &req); apiErr != nil {
		middleware.WriteError(w, r, apiErr)
		return
	}
	if req.Role != domain.RoleUser && req.Role != domain.RoleAssistant {
		middleware.WriteError(w, r, domain.ErrInvalidRequest(domain.MsgInvalidRole))
		return
	}

	raw := req.Content
	if len(raw) == 0 {
		raw = req.Parts
	}
	var parts []domain.Part
	if len(raw) == 0 || json.Unmarshal(raw, &parts) != nil || len(parts) == 0 {
		middleware.WriteError(w, r, domain.ErrInvalidRequest(domain.MsgInvalidRequestBody))
		return
	}
	if err := validation.ValidateParts(parts); err != nil {
		middleware.WriteError(w, r, domain.ErrInvalidRequest(err.Error()))
		return
	}

	msg, err := h.recorder.Append(r.Context(), frontdoor.PrincipalFrom(r.Context()), id, req.Role, parts)
	if err != nil {
		h.lookupError(w, r, "add message", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, messageResponse(msg))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) *domain.APIError {
	if err := validation.CheckContentLength(r.ContentLength); err != nil {
		return domain.ErrInvalidRequest(domain.MsgBodyTooLarge)
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, validation.MaxBodySize)).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			// an empty body decodes as an empty object
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrInvalidRequest(domain.MsgBodyTooLarge)
		}
		return domain.ErrInvalidRequest(domain.MsgInvalidJSON).WithCause(err)
	}
	return nil
}

func (h *Handler) lookupError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		middleware.WriteError(w, r, domain.ErrNotFound().WithCause(err))
		return
	}
	h.serverError(w, r, op, err)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("conversations_error",
		slog.String("op", op),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteError(w, r, domain.ErrServer(err))
}

func conversationResponse(c *storage.Conversation) ConversationResponse {
	return ConversationResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func messageResponse(m *storage.StoredMessage) MessageResponse {
	return MessageResponse{ID: m.ID, Role: m.Role, Content: m.Parts, CreatedAt: m.CreatedAt}
}
