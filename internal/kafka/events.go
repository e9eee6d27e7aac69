package kafka

import "time"

// OrderPaidEvent is published once per order when payment settles.
type OrderPaidEvent struct {
	OrderID       string    `json:"orderId"`
	SessionID     string    `json:"sessionId"`
	CustomerEmail string    `json:"customerEmail"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Quantity      int       `json:"quantity"`
	PaidAt        time.Time `json:"paidAt"`
}

// TicketIssuedEvent is published after tickets are persisted.
type TicketIssuedEvent struct {
	OrderID   string    `json:"orderId"`
	TicketIDs []string  `json:"ticketIds"`
	Reissue   bool      `json:"reissue"`
	Emailed   bool      `json:"emailed"`
	IssuedAt  time.Time `json:"issuedAt"`
}
