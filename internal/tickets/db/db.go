package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-tickets/internal/models"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrEventNotFound  = errors.New("event not found")
	// ErrAlreadyIssued means another writer stored a live ticket for the
	// same order seat first.
	ErrAlreadyIssued = errors.New("order tickets already issued")
)

// liveSeatIndex allows one live ticket per order seat.
const liveSeatIndex = "tickets_live_seat_idx"

func isLiveSeatConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == liveSeatIndex
	}
	// sqlite names the columns instead of the index
	return strings.Contains(err.Error(), "UNIQUE constraint failed: tickets.order_id, tickets.sequence")
}

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketBySignature(ctx context.Context, signature string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("signature = ?", signature).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ActiveTicketsByOrder returns the current (not superseded) tickets in
// sequence order.
func (d *DB) ActiveTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Where("superseded = ?", false).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	if err != nil && isLiveSeatConflict(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyIssued, tickets[0].OrderID)
	}
	return err
}

// TicketCounts are the live tickets of a set of orders.
type TicketCounts struct {
	Issued    int `bun:"issued"`
	CheckedIn int `bun:"checked_in"`
}

// CountTickets counts active tickets across the orders, and how many of them
// were scanned.
func (d *DB) CountTickets(ctx context.Context, orderIDs []string) (TicketCounts, error) {
	var counts TicketCounts
	if len(orderIDs) == 0 {
		return counts, nil
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("COUNT(*) AS issued").
		ColumnExpr("COALESCE(SUM(CASE WHEN checked_in THEN 1 ELSE 0 END), 0) AS checked_in").
		Where("order_id IN (?)", bun.In(orderIDs)).
		Where("superseded = ?", false).
		Scan(ctx, &counts)
	if err != nil {
		return TicketCounts{}, fmt.Errorf("count tickets: %w", err)
	}
	return counts, nil
}

// ReplaceOrderTickets supersedes every active ticket of the order and
// inserts the new set in one transaction. Returns how many were superseded.
func (d *DB) ReplaceOrderTickets(ctx context.Context, orderID string, tickets []models.Ticket) (int64, error) {
	var superseded int64
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("superseded = ?", true).
			Where("order_id = ?", orderID).
			Where("superseded = ?", false).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("supersede tickets: %w", err)
		}
		superseded, _ = res.RowsAffected()

		if len(tickets) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			if isLiveSeatConflict(err) {
				// a concurrent reissue committed its set first
				return fmt.Errorf("%w: %s", ErrAlreadyIssued, orderID)
			}
			return fmt.Errorf("insert tickets: %w", err)
		}
		return nil
	})
	return superseded, err
}

// MarkCheckedIn flips checked_in once. alreadyCheckedIn is true when the
// ticket had been scanned before.
func (d *DB) MarkCheckedIn(ctx context.Context, ticketID string, at time.Time) (alreadyCheckedIn bool, err error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("checked_in = ?", true).
		Set("checked_in_at = ?", at).
		Where("ticket_id = ?", ticketID).
		Where("checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return false, nil
	}

	exists, err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("ticket_id = ?", ticketID).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrTicketNotFound
	}
	return true, nil
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (d *DB) UpsertEvent(ctx context.Context, event models.Event) error {
	_, err := d.Bun.NewInsert().
		Model(&event).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("starts_at = EXCLUDED.starts_at").
		Set("venue_name = EXCLUDED.venue_name").
		Set("venue_address = EXCLUDED.venue_address").
		Set("venue_city = EXCLUDED.venue_city").
		Set("location = EXCLUDED.location").
		Set("door_time = EXCLUDED.door_time").
		Set("show_time = EXCLUDED.show_time").
		Set("age_restriction = EXCLUDED.age_restriction").
		Set("genre = EXCLUDED.genre").
		Exec(ctx)
	return err
}
