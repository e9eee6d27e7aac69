package analytics_api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-tickets/internal/analytics"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/utils"
)

type EventAnalyticsService interface {
	GetEventAnalytics(ctx context.Context, eventID string) (*analytics.EventAnalytics, error)
}

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service EventAnalyticsService
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service EventAnalyticsService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/events/{eventId}/analytics", h.GetEventAnalytics)
}

func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	h.Logger.Debug("ANALYTICS", fmt.Sprintf("GetEventAnalytics: eventId=%s", eventID))

	result, err := h.Service.GetEventAnalytics(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to get event analytics for %s: %v", eventID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to get event analytics", "internal error"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}
