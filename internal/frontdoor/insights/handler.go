// Package insights serves the insights a principal has saved through the
// saveInsight tool.
package insights

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/domain"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
)

// Handler handles GET /api/insights.
type Handler struct {
	store  storage.InsightLister
	logger *slog.Logger
}

// NewHandler creates an insights handler.
func NewHandler(store storage.InsightLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// InsightResponse is one saved insight. Topic is null when none was given.
type InsightResponse struct {
	ID        string    `json:"id"`
	Insight   string    `json:"insight"`
	Topic     *string   `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// ListResponse is the insights list body.
type ListResponse struct {
	Insights []InsightResponse `json:"insights"`
}

// HandleList returns the principal's insights, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal := frontdoor.PrincipalFrom(r.Context())

	saved, err := h.store.ListInsights(r.Context(), principal, frontdoor.ListLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.logger.Error("insights_error",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, r, domain.ErrServer(err))
		return
	}

	resp := ListResponse{Insights: make([]InsightResponse, 0, len(saved))}
	for _, in := range saved {
		item := InsightResponse{ID: in.ID, Insight: in.Insight, CreatedAt: in.CreatedAt}
		if in.Topic != "" {
			topic := in.Topic
			item.Topic = &topic
		}
		resp.Insights = append(resp.Insights, item)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
