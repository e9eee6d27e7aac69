package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event holds the listing details printed on a ticket.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID             string    `bun:"id,pk" json:"id"`
	Name           string    `bun:"name,notnull" json:"name"`
	StartsAt       time.Time `bun:"starts_at,notnull" json:"startsAt"`
	VenueName      string    `bun:"venue_name,nullzero" json:"venueName,omitempty"`
	VenueAddress   string    `bun:"venue_address,nullzero" json:"venueAddress,omitempty"`
	VenueCity      string    `bun:"venue_city,nullzero" json:"venueCity,omitempty"`
	Location       string    `bun:"location,nullzero" json:"location,omitempty"`
	DoorTime       string    `bun:"door_time,nullzero" json:"doorTime,omitempty"`
	ShowTime       string    `bun:"show_time,nullzero" json:"showTime,omitempty"`
	AgeRestriction string    `bun:"age_restriction,nullzero" json:"ageRestriction,omitempty"`
	Genre          string    `bun:"genre,nullzero" json:"genre,omitempty"`
}

// Venue returns the structured venue block, or nil when only a flat
// location string is known.
func (e Event) Venue() *Venue {
	if e.VenueName == "" && e.VenueAddress == "" && e.VenueCity == "" {
		return nil
	}
	return &Venue{Name: e.VenueName, Address: e.VenueAddress, City: e.VenueCity}
}
