// Package chat implements the chat endpoint: a fixed sequence of admission
// stages followed by a streaming, tool-augmented model completion.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/auth"
	"github.com/tjfontaine/socratic-gateway/internal/cors"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/model"
	"github.com/tjfontaine/socratic-gateway/internal/observability"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
	"github.com/tjfontaine/socratic-gateway/internal/ratelimit"
	"github.com/tjfontaine/socratic-gateway/internal/tokens"
	"github.com/tjfontaine/socratic-gateway/internal/tools"
	"github.com/tjfontaine/socratic-gateway/internal/validation"
)

const (
	DefaultMaxSteps        = 5
	DefaultToolConcurrency = 4
)

// Recorder persists the assistant turn of a streamed response. It must not
// block on, or fail, the response.
type Recorder interface {
	RecordAssistant(ctx context.Context, principal, conversationID string, parts []domain.Part)
}

// Deps are the collaborators of a Pipeline. Recorder, Tools, Metrics and
// Tokens are optional.
type Deps struct {
	Guard     *cors.Guard
	Limiter   *ratelimit.Limiter
	Auth      auth.Authenticator
	Models    *model.Selector
	Providers *provider.Registry
	Tools     *tools.Registry
	Recorder  Recorder
	Metrics   *observability.Metrics
	Tokens    *tokens.Counter
	Logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxSteps caps the provider calls made for one response.
func WithMaxSteps(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// WithToolConcurrency bounds how many tool calls of one step run at once.
func WithToolConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.toolConcurrency = n
		}
	}
}

// WithSystemPrompt replaces SystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(p *Pipeline) {
		p.systemPrompt = prompt
	}
}

// WithMaxTokens sets the completion token cap passed to providers.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) {
		p.maxTokens = n
	}
}

// WithClock overrides the time source used for stream metrics.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithIDGenerator overrides generation of message and text block ids.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) {
		p.newID = newID
	}
}

// Pipeline serves POST /api/chat.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger

	maxSteps        int
	toolConcurrency int
	systemPrompt    string
	maxTokens       int
	now             func() time.Time
	newID           func() string
}

// Request is the chat request body.
type Request struct {
	Messages       []domain.Message
	ModelID        string
	ConversationID string
}

// New creates a pipeline. Guard, Limiter, Auth, Models and Providers are
// required.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Guard == nil:
		return nil, errors.New("chat: origin guard is required")
	case deps.Limiter == nil:
		return nil, errors.New("chat: rate limiter is required")
	case deps.Auth == nil:
		return nil, errors.New("chat: authenticator is required")
	case deps.Models == nil:
		return nil, errors.New("chat: model selector is required")
	case deps.Providers == nil:
		return nil, errors.New("chat: provider registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p := &Pipeline{
		deps:            deps,
		logger:          deps.Logger,
		maxSteps:        DefaultMaxSteps,
		toolConcurrency: DefaultToolConcurrency,
		systemPrompt:    SystemPrompt,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Preflight answers CORS preflight for the chat route.
func (p *Pipeline) Preflight(w http.ResponseWriter, r *http.Request) {
	p.deps.Guard.Preflight(w, r)
}

// ServeHTTP runs the admission stages in order and then streams the
// completion. Each stage either continues or ends the request with a
// terminal error response.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := ratelimit.ClientKey(r)
	origin := r.Header.Get("Origin")
	middleware.AddLogField(ctx, "ip", ip)

	if err := p.deps.Guard.Check(r); err != nil {
		p.logger.Warn("csrf_rejected", slog.String("ip", ip), slog.String("origin", origin))
		p.reject(w, r, observability.StageOrigin, "", domain.ErrPermission().WithCause(err))
		return
	}

	limit := p.deps.Limiter.Allow(ip)
	if !limit.Allowed {
		p.logger.Warn("rate_limit_exceeded", slog.String("ip", ip))
		middleware.SetRateLimitHeaders(w.Header(), limit)
		p.reject(w, r, observability.StageRateLimit, origin, domain.ErrRateLimit(limit.RetryAfterSeconds()))
		return
	}

	verdict := p.deps.Auth.Authenticate(r)
	if !verdict.OK() {
		p.logger.Warn("auth_failed", slog.String("ip", ip), slog.String("reason", string(verdict.Reason)))
		p.reject(w, r, observability.StageAuth, origin,
			domain.ErrAuthentication().WithCause(fmt.Errorf("auth: %s", verdict.Reason)))
		return
	}
	middleware.AddLogField(ctx, "principal", verdict.Principal)

	req, apiErr := p.decode(w, r)
	if apiErr != nil {
		p.reject(w, r, observability.StageValidation, origin, apiErr)
		return
	}

	binding, err := p.deps.Models.Resolve(req.ModelID)
	if err != nil {
		p.logger.Error("chat_error", slog.String("ip", ip), slog.String("error", err.Error()))
		p.reject(w, r, observability.StageModel, origin, domain.ErrServer(err))
		return
	}
	if binding.Fallback() {
		p.logger.Warn("invalid_model_id", slog.String("ip", ip), slog.String("modelId", req.ModelID))
	}

	requested := req.ModelID
	if requested == "" {
		requested = "default"
	}
	p.logger.Info("chat_request",
		slog.String("ip", ip),
		slog.Int("messageCount", len(req.Messages)),
		slog.String("modelId", requested),
	)
	middleware.AddLogField(ctx, "model", binding.ID)
	middleware.AddLogField(ctx, "provider", binding.Provider)

	middleware.SetRateLimitHeaders(w.Header(), limit)
	p.stream(w, r, &turn{
		ip:             ip,
		origin:         origin,
		principal:      verdict.Principal,
		conversationID: req.ConversationID,
		binding:        binding,
		messages:       req.Messages,
	})
}

// decode enforces the body size cap, parses the body and validates the
// messages.
func (p *Pipeline) decode(w http.ResponseWriter, r *http.Request) (*Request, *domain.APIError) {
	if err := validation.CheckContentLength(r.ContentLength); err != nil {
		return nil, domain.ErrInvalidRequest(err.Error())
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validation.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.ErrInvalidRequest(domain.MsgBodyTooLarge)
		}
		return nil, domain.ErrInvalidRequest(domain.MsgInvalidJSON).WithCause(err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		if json.Valid(data) {
			// valid JSON that is not an object carries no messages
			return nil, domain.ErrInvalidRequest(domain.MsgMessagesRequired)
		}
		return nil, domain.ErrInvalidRequest(domain.MsgInvalidJSON).WithCause(err)
	}

	raw := bytes.TrimSpace(wire["messages"])
	if len(raw) == 0 || raw[0] != '[' {
		return nil, domain.ErrInvalidRequest(domain.MsgMessagesRequired)
	}

	req := &Request{
		ModelID:        stringField(wire["modelId"]),
		ConversationID: stringField(wire["conversationId"]),
	}
	if err := json.Unmarshal(raw, &req.Messages); err != nil {
		return nil, domain.ErrInvalidRequest(domain.MsgInvalidJSON).WithCause(err)
	}

	if err := validation.ValidateMessages(req.Messages); err != nil {
		return nil, domain.ErrInvalidRequest(err.Error())
	}
	return req, nil
}

// stringField returns raw as a string, or "" when it is absent or not a
// JSON string.
func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// reject writes a terminal error response. CORS headers are attached when
// origin is on the allow-list.
func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage, origin string, apiErr *domain.APIError) {
	p.deps.Metrics.ObserveRejection(stage)
	writeError(w, r, p.deps.Guard, origin, apiErr)
	p.deps.Metrics.ObserveRequest(strconv.Itoa(apiErr.HTTPStatusCode()))
}

// writeError writes apiErr as a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, guard *cors.Guard, origin string, apiErr *domain.APIError) {
	if guard != nil && origin != "" {
		guard.Apply(w, origin)
	}
	middleware.WriteError(w, r, apiErr)
}
