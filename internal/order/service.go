package order

import (
	"context"
	"fmt"

	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/models"
	tickets "ms-tickets/internal/tickets/service"
)

// OrderStore lookups return (nil, nil) for unknown orders.
type OrderStore interface {
	FindOrderByID(ctx context.Context, id string) (*models.Order, error)
	FindOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	UpsertOrderBySession(ctx context.Context, incoming models.Order) (models.Order, bool, error)
}

// EventGuard deduplicates provider webhook deliveries.
type EventGuard interface {
	ClaimEvent(ctx context.Context, eventID string) (bool, error)
	CompleteEvent(ctx context.Context, eventID string) error
	ReleaseEvent(ctx context.Context, eventID string) error
	EventDone(ctx context.Context, eventID string) (bool, error)
}

type SessionCache interface {
	CacheSessionOrder(ctx context.Context, sessionID, orderID string) error
	SessionOrder(ctx context.Context, sessionID string) (string, bool, error)
}

type PaidPublisher interface {
	PublishOrderPaid(ctx context.Context, event kafka.OrderPaidEvent) error
}

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, orderID string) (*tickets.IssueResult, error)
}

// Notifier wakes anyone waiting on an order or session key.
type Notifier interface {
	Publish(keys ...string)
}

// OrderService ingests payment webhooks and answers confirmation lookups.
// Everything but Store is optional. A nil Issuer leaves issuance to the
// order.paid consumer.
type OrderService struct {
	Store         OrderStore
	Guard         EventGuard
	Sessions      SessionCache
	Publisher     PaidPublisher
	Issuer        TicketIssuer
	Hub           Notifier
	WebhookSecret string
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

func NewOrderService(store OrderStore, webhookSecret string, log *logger.Logger) *OrderService {
	if log == nil {
		log = logger.NewNop()
	}
	return &OrderService{Store: store, WebhookSecret: webhookSecret, Logger: log}
}

// GetOrder returns (nil, nil) when the order does not exist.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.Store.FindOrderByID(ctx, id)
}

// LookupOrder resolves an order by id when known, otherwise by checkout
// session. The session cache is consulted first; a cache failure only costs
// a store read.
func (s *OrderService) LookupOrder(ctx context.Context, orderID, sessionID string) (*models.Order, error) {
	if orderID != "" {
		order, err := s.Store.FindOrderByID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("find order %s: %w", orderID, err)
		}
		return order, nil
	}
	if sessionID == "" {
		return nil, nil
	}

	if s.Sessions != nil {
		cached, ok, err := s.Sessions.SessionOrder(ctx, sessionID)
		if err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Session cache read failed for %s: %v", sessionID, err))
		} else if ok {
			order, err := s.Store.FindOrderByID(ctx, cached)
			if err == nil && order != nil {
				return order, nil
			}
		}
	}

	order, err := s.Store.FindOrderBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find order for session %s: %w", sessionID, err)
	}
	if order != nil && s.Sessions != nil {
		if err := s.Sessions.CacheSessionOrder(ctx, sessionID, order.ID); err != nil {
			s.Logger.Warn("REDIS", err.Error())
		}
	}
	return order, nil
}
