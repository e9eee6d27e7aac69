package order_api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/order"
	"ms-tickets/internal/reconcile"
	"ms-tickets/internal/sse"
	"ms-tickets/internal/utils"
)

// PollSettings tunes the confirmation stream's poller.
type PollSettings struct {
	MaxRetries   int
	Interval     time.Duration
	SupportEmail string
	// After overrides the poller's timer, mainly for tests.
	After func(time.Duration) <-chan time.Time
}

type Handler struct {
	OrderService *order.OrderService
	Hub          *sse.CheckoutEventEmitter
	Poll         PollSettings
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

func NewHandler(orderService *order.OrderService, hub *sse.CheckoutEventEmitter, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		OrderService: orderService,
		Hub:          hub,
		Poll: PollSettings{
			MaxRetries: reconcile.DefaultMaxRetries,
			Interval:   reconcile.DefaultInterval,
		},
		Logger: log,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/webhooks/stripe", h.StripeWebhook)
	r.Get("/api/orders/{orderId}", h.GetOrder)
	r.Get("/api/checkout/confirmation", h.CheckoutConfirmation)
	r.Get("/api/checkout/confirmation/stream", h.ConfirmationStream)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	orderData, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: lookup failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to load order", "lookup failed"))
		return
	}
	if orderData == nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Order not found", "no order "+orderID))
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, orderData); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetOrder: failed to encode response: %v", err))
	}
}

// CheckoutConfirmation is a single lookup for clients that poll themselves.
// An order that is not there yet is a 200 with found=false.
func (h *Handler) CheckoutConfirmation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	orderID := r.URL.Query().Get("order_id")
	if sessionID == "" && orderID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing reference", "session_id or order_id is required"))
		return
	}

	found, err := h.OrderService.LookupOrder(r.Context(), orderID, sessionID)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CheckoutConfirmation: lookup failed: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Lookup failed", "try again shortly"))
		return
	}

	body := struct {
		Found bool        `json:"found"`
		Paid  bool        `json:"paid"`
		Order interface{} `json:"order,omitempty"`
	}{}
	if found != nil {
		body.Found = true
		body.Paid = found.IsPaid()
		body.Order = found
	}
	utils.WriteJSON(w, http.StatusOK, body)
}

// StripeWebhook handles webhook events from Stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	result, err := h.OrderService.HandleStripeWebhook(r)
	if err != nil {
		var webhookErr *order.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Error("API", fmt.Sprintf("StripeWebhook: category=%s status=%d: %v",
				webhookErr.Category, webhookErr.StatusCode, err))
			http.Error(w, webhookErr.PublicError, webhookErr.StatusCode)
			return
		}

		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to process webhook: %v", err))
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received":  true,
		"duplicate": result.Duplicate,
		"ignored":   result.Ignored,
	})
}
