package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-tickets/internal/models"
)

var ErrOrderNotFound = errors.New("order not found")

type DB struct {
	Bun *bun.DB
	// Now stamps createdAt/updatedAt; defaults to time.Now.
	Now func() time.Time
}

func (d *DB) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// ---------------- READS ----------------

// FindOrderByID returns (nil, nil) when no such order exists. Rows are read
// raw so either column spelling is accepted.
func (d *DB) FindOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return findOne(ctx, d.Bun, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
}

// FindOrderBySessionID looks the session up under both the current and the
// legacy column. Returns (nil, nil) when nothing matches.
func (d *DB) FindOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	return findBySession(ctx, d.Bun, sessionID)
}

func findBySession(ctx context.Context, idb bun.IDB, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	return findOne(ctx, idb, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident("stripeSessionId"), sessionID).
				WhereOr("? = ?", bun.Ident("stripe_session_id"), sessionID)
		})
	})
}

// ListOrdersByEvent returns every order for the event, matching either
// column spelling, oldest first.
func (d *DB) ListOrdersByEvent(ctx context.Context, eventID string) ([]models.Order, error) {
	var rows []map[string]interface{}
	err := d.Bun.NewSelect().
		Table("orders").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident("eventId"), eventID).
				WhereOr("? = ?", bun.Ident("event_id"), eventID)
		}).
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		order, err := models.NormalizeOrderRow(row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func findOne(ctx context.Context, idb bun.IDB, filter func(*bun.SelectQuery) *bun.SelectQuery) (*models.Order, error) {
	var rows []map[string]interface{}
	err := filter(idb.NewSelect().Table("orders")).Limit(1).Scan(ctx, &rows)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	order, err := models.NormalizeOrderRow(rows[0])
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ---------------- WRITES ----------------

// UpsertOrderBySession creates or merges the order keyed by its checkout
// session. Merging never downgrades a paid order. becamePaid reports the
// unpaid to paid transition so callers trigger issuance exactly once.
func (d *DB) UpsertOrderBySession(ctx context.Context, incoming models.Order) (models.Order, bool, error) {
	if incoming.StripeSessionID == "" {
		return models.Order{}, false, errors.New("upsert order: missing session id")
	}

	var (
		result     models.Order
		becamePaid bool
	)

	// A concurrent delivery may insert the same session between our read
	// and write; the unique index rejects it and the second pass merges.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			existing, err := findBySession(ctx, tx, incoming.StripeSessionID)
			if err == nil && existing == nil && incoming.ID != "" {
				// created before checkout, session not yet attached
				existing, err = findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("id = ?", incoming.ID)
				})
			}
			if err != nil {
				return err
			}
			now := d.now()

			if existing == nil {
				created := incoming
				if created.ID == "" {
					created.ID = uuid.New().String()
				}
				if created.CreatedAt.IsZero() {
					created.CreatedAt = now
				}
				created.UpdatedAt = now
				if _, err := tx.NewInsert().Model(&created).Exec(ctx); err != nil {
					return fmt.Errorf("insert order: %w", err)
				}
				result, becamePaid = created, created.IsPaid()
				return nil
			}

			merged, paid := models.MergeOrderUpdate(*existing, incoming)
			merged.UpdatedAt = now
			if _, err := tx.NewUpdate().Model(&merged).WherePK().Exec(ctx); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			result, becamePaid = merged, paid
			return nil
		})
		if lastErr == nil {
			return result, becamePaid, nil
		}
	}
	return models.Order{}, false, lastErr
}

// MarkConfirmationSent flips the flag after a successful ticket email.
func (d *DB) MarkConfirmationSent(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Table("orders").
		Set("confirmation_sent = ?", true).
		Set("? = ?", bun.Ident("updatedAt"), d.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrOrderNotFound
	}
	return nil
}
