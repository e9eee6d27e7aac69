package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-tickets/internal/kafka"
	"ms-tickets/internal/models"
	"ms-tickets/internal/utils"
)

// Stripe recommends rejecting larger webhook bodies.
const maxWebhookBytes = 65536

// Checkout session metadata keys set when the session is created.
const (
	metaOrderID    = "order_id"
	metaEventID    = "event_id"
	metaTicketType = "ticket_type"
	metaQuantity   = "quantity"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing", "conflict"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// WebhookResult describes what a delivery did.
type WebhookResult struct {
	EventID    string
	EventType  string
	Duplicate  bool
	Ignored    bool
	Order      *models.Order
	BecamePaid bool
}

// HandleStripeWebhook reads and processes one webhook request.
func (s *OrderService) HandleStripeWebhook(r *http.Request) (*WebhookResult, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}
	return s.ProcessWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
}

// ProcessWebhook verifies the signature and applies the checkout session to
// the order store. Deliveries are idempotent per event id and per session;
// a paid order is never downgraded. Processing errors release the event
// claim and return a 5xx so the provider retries.
func (s *OrderService) ProcessWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	if s.WebhookSecret == "" {
		s.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return nil, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Webhook signature verification failed: %v", err))
		s.Metrics.WebhookEvent("unknown", "rejected")
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	eventType := string(event.Type)
	result := &WebhookResult{EventID: event.ID, EventType: eventType}

	if !handledEvent(event.Type) {
		s.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", eventType))
		s.Metrics.WebhookEvent(eventType, "ignored")
		result.Ignored = true
		return result, nil
	}

	claimed := false
	if s.Guard != nil {
		ok, err := s.Guard.ClaimEvent(ctx, event.ID)
		switch {
		case err != nil:
			// the upsert is idempotent on its own; carry on without the guard
			s.Logger.Warn("WEBHOOK", fmt.Sprintf("Idempotency guard unavailable for %s: %v", event.ID, err))
		case !ok:
			if done, err := s.Guard.EventDone(ctx, event.ID); err == nil && !done {
				// another delivery still holds the claim; the provider retries later
				s.Metrics.WebhookEvent(eventType, "in_flight")
				return nil, &WebhookError{
					Category:      "conflict",
					StatusCode:    http.StatusConflict,
					PublicError:   "Event is already being processed",
					InternalError: fmt.Sprintf("Event %s is claimed by another delivery", event.ID),
				}
			}
			s.Logger.LogWebhook(eventType, event.ID, "duplicate delivery ignored")
			s.Metrics.WebhookEvent(eventType, "duplicate")
			result.Duplicate = true
			return result, nil
		default:
			claimed = true
		}
	}

	order, becamePaid, err := s.applySession(ctx, event)
	if err != nil {
		if claimed {
			if relErr := s.Guard.ReleaseEvent(ctx, event.ID); relErr != nil {
				s.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to release claim on %s: %v", event.ID, relErr))
			}
		}
		s.Metrics.WebhookEvent(eventType, "failed")
		return nil, err
	}
	result.Order = order
	result.BecamePaid = becamePaid

	s.afterUpsert(ctx, order, becamePaid)

	if claimed {
		if err := s.Guard.CompleteEvent(ctx, event.ID); err != nil {
			s.Logger.Warn("WEBHOOK", fmt.Sprintf("Failed to mark %s complete: %v", event.ID, err))
		}
	}
	s.Metrics.WebhookEvent(eventType, "processed")
	s.Logger.LogWebhook(eventType, event.ID, fmt.Sprintf("order %s payment=%s status=%s", order.ID, order.PaymentStatus, order.Status))
	return result, nil
}

func handledEvent(t stripe.EventType) bool {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		return true
	}
	return false
}

func (s *OrderService) applySession(ctx context.Context, event stripe.Event) (*models.Order, bool, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal checkout session: %v", err))
		return nil, false, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}
	if session.ID == "" {
		return nil, false, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid checkout session data",
			InternalError: "Checkout session has no id",
			OriginalErr:   errors.New("missing session id"),
		}
	}

	incoming := orderFromSession(event.Type, &session)
	order, becamePaid, err := s.Store.UpsertOrderBySession(ctx, incoming)
	if err != nil {
		s.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to store order for session %s: %v", session.ID, err))
		return nil, false, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Failed to process payment",
			InternalError: fmt.Sprintf("Failed to store order for session %s: %v", session.ID, err),
			OriginalErr:   err,
		}
	}
	return &order, becamePaid, nil
}

// afterUpsert runs the best-effort side effects. None of them can fail the
// delivery: the order row is already committed.
func (s *OrderService) afterUpsert(ctx context.Context, order *models.Order, becamePaid bool) {
	if s.Sessions != nil {
		if err := s.Sessions.CacheSessionOrder(ctx, order.StripeSessionID, order.ID); err != nil {
			s.Logger.Warn("REDIS", err.Error())
		}
	}

	if becamePaid {
		if s.Publisher != nil {
			err := s.Publisher.PublishOrderPaid(ctx, kafka.OrderPaidEvent{
				OrderID:       order.ID,
				SessionID:     order.StripeSessionID,
				CustomerEmail: order.CustomerEmail,
				Amount:        order.Amount,
				Currency:      order.Currency,
				Quantity:      order.TicketCount(),
				PaidAt:        order.UpdatedAt,
			})
			if err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("order.paid for %s not published: %v", order.ID, err))
			}
		}
		if s.Issuer != nil {
			if _, err := s.Issuer.IssueForOrder(ctx, order.ID); err != nil {
				s.Logger.Error("TICKET", fmt.Sprintf("Ticket issuance for paid order %s failed: %v", order.ID, err))
			}
		}
	}

	// wake confirmation pollers after issuance so a confirmed page can
	// offer the download straight away
	if s.Hub != nil {
		s.Hub.Publish(order.ID, order.StripeSessionID)
	}
}

// orderFromSession maps a checkout session onto the fields the event may
// contribute. Merge rules live in models.MergeOrderUpdate.
func orderFromSession(eventType stripe.EventType, cs *stripe.CheckoutSession) models.Order {
	o := models.Order{
		ID:              firstNonEmpty(cs.Metadata[metaOrderID], cs.ClientReferenceID),
		StripeSessionID: cs.ID,
		CustomerEmail:   cs.CustomerEmail,
		Amount:          cs.AmountTotal,
		Currency:        strings.ToLower(string(cs.Currency)),
		EventID:         cs.Metadata[metaEventID],
		TicketType:      cs.Metadata[metaTicketType],
		PaymentStatus:   models.PaymentStatus(cs.PaymentStatus),
	}
	if n, err := strconv.Atoi(cs.Metadata[metaQuantity]); err == nil && n > 0 {
		o.Quantity = n
	}
	if cs.CustomerDetails != nil {
		o.CustomerEmail = firstNonEmpty(cs.CustomerDetails.Email, o.CustomerEmail)
		o.CustomerName = cs.CustomerDetails.Name
	}
	if cs.Created > 0 {
		o.CreatedAt = utils.UnixTimeToTime(cs.Created).UTC()
	}

	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted:
		if o.PaymentStatus.Settled() {
			o.PaymentStatus = models.PaymentStatusPaid
			o.Status = models.OrderStatusCompleted
		} else {
			// delayed payment method, settles via async_payment_succeeded
			o.PaymentStatus = models.PaymentStatusPending
			o.Status = models.OrderStatusPending
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		o.PaymentStatus = models.PaymentStatusPaid
		o.Status = models.OrderStatusCompleted
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		o.PaymentStatus = models.PaymentStatusFailed
		o.Status = models.OrderStatusCancelled
	case stripe.EventTypeCheckoutSessionExpired:
		if o.PaymentStatus == "" {
			o.PaymentStatus = models.PaymentStatusUnpaid
		}
		o.Status = models.OrderStatusExpired
	}
	return o
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
