package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Venue struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
}

// TicketPayload is everything printed on one ticket. Only OrderID,
// AttendeeName, EventName, EventDate and TicketType (plus the issue
// timestamp) are signed; the rest is presentation.
type TicketPayload struct {
	OrderID        string `json:"orderId" validate:"required"`
	AttendeeName   string `json:"attendeeName" validate:"required"`
	EventName      string `json:"eventName" validate:"required"`
	EventDate      string `json:"eventDate" validate:"required"`
	TicketType     string `json:"ticketType" validate:"required"`
	PriceText      string `json:"priceText,omitempty"`
	Venue          *Venue `json:"venue,omitempty"`
	Location       string `json:"location,omitempty"`
	DoorTime       string `json:"doorTime,omitempty"`
	ShowTime       string `json:"showTime,omitempty"`
	AgeRestriction string `json:"ageRestriction,omitempty"`
	Genre          string `json:"genre,omitempty"`
}

// Ticket is an issued ticket instance. Re-issuing an order supersedes the
// previous instances rather than mutating them.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID     string    `bun:"ticket_id,pk" json:"ticketId"`
	OrderID      string    `bun:"order_id,notnull" json:"orderId"`
	Sequence     int       `bun:"sequence" json:"sequence"`
	AttendeeName string    `bun:"attendee_name" json:"attendeeName"`
	EventName    string    `bun:"event_name" json:"eventName"`
	EventDate    string    `bun:"event_date" json:"eventDate"`
	TicketType   string    `bun:"ticket_type" json:"ticketType"`
	SignedAt     string    `bun:"signed_at" json:"signedAt"`
	Signature    string    `bun:"signature,unique" json:"signature"`
	QRPayload    string    `bun:"qr_payload" json:"qrPayload"`
	QRCode       []byte    `bun:"qr_code" json:"-"`
	IssuedAt     time.Time `bun:"issued_at" json:"issuedAt"`
	Superseded   bool      `bun:"superseded" json:"superseded"`
	CheckedIn    bool      `bun:"checked_in" json:"checkedIn"`
	CheckedInAt  time.Time `bun:"checked_in_at,nullzero" json:"checkedInAt,omitempty"`
}
