package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is the canonical in-memory order. Column tags use the current
// camelCase spelling; rows written before the naming migration are read
// through NormalizeOrderRow.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID               string        `bun:"id,pk" json:"id"`
	CustomerEmail    string        `bun:"customerEmail" json:"customerEmail"`
	CustomerName     string        `bun:"customerName" json:"customerName"`
	Amount           int64         `bun:"amount" json:"amount"`
	Currency         string        `bun:"currency" json:"currency"`
	Quantity         int           `bun:"quantity" json:"quantity"`
	CreatedAt        time.Time     `bun:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time     `bun:"updatedAt" json:"updatedAt"`
	Status           OrderStatus   `bun:"status" json:"status"`
	PaymentStatus    PaymentStatus `bun:"paymentStatus" json:"paymentStatus"`
	ConfirmationSent bool          `bun:"confirmation_sent" json:"confirmation_sent"`
	StripeSessionID  string        `bun:"stripeSessionId,nullzero" json:"stripeSessionId"`
	EventID          string        `bun:"eventId" json:"eventId,omitempty"`
	TicketType       string        `bun:"ticketType" json:"ticketType,omitempty"`
}

// IsPaid reports whether the provider's paid status was recorded. Free
// checkouts are stored as paid at ingestion.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// TicketCount is how many tickets the order entitles; never below one.
func (o Order) TicketCount() int {
	if o.Quantity < 1 {
		return 1
	}
	return o.Quantity
}

// MergeOrderUpdate applies an incoming webhook-derived order onto the stored
// one. Payment success is sticky: once paid, later unpaid/failed/expired
// deliveries never downgrade payment or status. Returns the merged order and
// whether it transitioned into paid.
func MergeOrderUpdate(existing, incoming Order) (Order, bool) {
	merged := existing
	wasPaid := existing.IsPaid()

	if merged.CustomerEmail == "" {
		merged.CustomerEmail = incoming.CustomerEmail
	}
	if merged.CustomerName == "" {
		merged.CustomerName = incoming.CustomerName
	}
	if merged.Amount == 0 {
		merged.Amount = incoming.Amount
	}
	if merged.Currency == "" {
		merged.Currency = incoming.Currency
	}
	if merged.Quantity == 0 {
		merged.Quantity = incoming.Quantity
	}
	if merged.EventID == "" {
		merged.EventID = incoming.EventID
	}
	if merged.TicketType == "" {
		merged.TicketType = incoming.TicketType
	}
	if merged.StripeSessionID == "" {
		merged.StripeSessionID = incoming.StripeSessionID
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}

	if !wasPaid {
		if incoming.PaymentStatus != "" {
			merged.PaymentStatus = incoming.PaymentStatus
		}
		if incoming.Status != "" {
			merged.Status = incoming.Status
		}
	}

	if !incoming.UpdatedAt.IsZero() && incoming.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = incoming.UpdatedAt
	}

	return merged, !wasPaid && merged.IsPaid()
}
