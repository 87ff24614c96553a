// Package models serves the list of models the gateway can route to.
package models

import (
	"net/http"

	"github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/model"
)

// Handler handles GET /api/models.
type Handler struct {
	selector *model.Selector
}

// NewHandler creates a models handler.
func NewHandler(selector *model.Selector) *Handler {
	return &Handler{selector: selector}
}

// ListResponse is the models list body.
type ListResponse struct {
	Models []model.Entry `json:"models"`
}

// HandleList returns the models whose provider has credentials.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	available := h.selector.Available()
	if available == nil {
		available = []model.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, ListResponse{Models: available})
}
