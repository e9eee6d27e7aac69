package db_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-tickets/internal/database/migrations"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/db"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// one connection, otherwise every conn gets its own in-memory database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	stmts, err := migrations.Statements("0001_init.up.sql")
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err := bunDB.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}

	return &db.DB{Bun: bunDB}
}

func newTicket(orderID string, seq int) models.Ticket {
	return models.Ticket{
		TicketID:     uuid.New().String(),
		OrderID:      orderID,
		Sequence:     seq,
		AttendeeName: "Jane Doe",
		EventName:    "Test Fest",
		EventDate:    "2024-07-15T18:00:00Z",
		TicketType:   "VIP",
		SignedAt:     "2024-07-01T12:00:00.000Z",
		Signature:    uuid.New().String(),
		QRPayload:    "{}",
		QRCode:       []byte{0x89, 'P', 'N', 'G'},
		IssuedAt:     time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGetTicket(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	tk := newTicket("ORD-1", 1)
	require.NoError(t, ticketDB.CreateTickets(ctx, []models.Ticket{tk}))

	got, err := ticketDB.GetTicketByID(ctx, tk.TicketID)
	require.NoError(t, err)
	assert.Equal(t, tk.OrderID, got.OrderID)
	assert.Equal(t, tk.QRCode, got.QRCode)
	assert.False(t, got.CheckedIn)

	bySig, err := ticketDB.GetTicketBySignature(ctx, tk.Signature)
	require.NoError(t, err)
	assert.Equal(t, tk.TicketID, bySig.TicketID)

	_, err = ticketDB.GetTicketByID(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrTicketNotFound)
	_, err = ticketDB.GetTicketBySignature(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrTicketNotFound)
}

func TestCreateTicketsEmptyIsNoop(t *testing.T) {
	ticketDB := setupTestDB(t)
	assert.NoError(t, ticketDB.CreateTickets(context.Background(), nil))
}

func TestReplaceOrderTicketsSupersedesPrevious(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	first := []models.Ticket{newTicket("ORD-1", 1), newTicket("ORD-1", 2)}
	other := newTicket("ORD-2", 1)
	require.NoError(t, ticketDB.CreateTickets(ctx, append(first, other)))

	second := []models.Ticket{newTicket("ORD-1", 1), newTicket("ORD-1", 2)}
	n, err := ticketDB.ReplaceOrderTickets(ctx, "ORD-1", second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	active, err := ticketDB.ActiveTicketsByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, second[0].TicketID, active[0].TicketID)
	assert.Equal(t, 2, active[1].Sequence)

	old, err := ticketDB.GetTicketByID(ctx, first[0].TicketID)
	require.NoError(t, err)
	assert.True(t, old.Superseded)

	untouched, err := ticketDB.ActiveTicketsByOrder(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Len(t, untouched, 1)
}

func TestOneLiveTicketPerSeat(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ticketDB.CreateTickets(ctx, []models.Ticket{newTicket("ORD-1", 1)})
		}(i)
	}
	wg.Wait()

	var stored, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			stored++
		case errors.Is(err, db.ErrAlreadyIssued):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, conflicts)

	active, err := ticketDB.ActiveTicketsByOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// superseded seats do not block a replacement
	_, err = ticketDB.ReplaceOrderTickets(ctx, "ORD-1", []models.Ticket{newTicket("ORD-1", 1)})
	require.NoError(t, err)

	err = ticketDB.CreateTickets(ctx, []models.Ticket{newTicket("ORD-1", 1)})
	assert.ErrorIs(t, err, db.ErrAlreadyIssued)
}

func TestMarkCheckedIn(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	tk := newTicket("ORD-1", 1)
	require.NoError(t, ticketDB.CreateTickets(ctx, []models.Ticket{tk}))

	at := time.Date(2024, 7, 15, 18, 5, 0, 0, time.UTC)
	already, err := ticketDB.MarkCheckedIn(ctx, tk.TicketID, at)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = ticketDB.MarkCheckedIn(ctx, tk.TicketID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, already)

	got, err := ticketDB.GetTicketByID(ctx, tk.TicketID)
	require.NoError(t, err)
	assert.True(t, got.CheckedIn)
	assert.True(t, at.Equal(got.CheckedInAt))

	_, err = ticketDB.MarkCheckedIn(ctx, "missing", at)
	assert.ErrorIs(t, err, db.ErrTicketNotFound)
}

func TestUpsertAndGetEvent(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	ev := models.Event{
		ID:        "evt_1",
		Name:      "Test Fest",
		StartsAt:  time.Date(2024, 7, 15, 18, 0, 0, 0, time.UTC),
		VenueName: "Main Hall",
		VenueCity: "Austin",
		Genre:     "Indie",
	}
	require.NoError(t, ticketDB.UpsertEvent(ctx, ev))

	ev.Name = "Test Fest 2024"
	ev.AgeRestriction = "18+"
	require.NoError(t, ticketDB.UpsertEvent(ctx, ev))

	got, err := ticketDB.GetEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "Test Fest 2024", got.Name)
	assert.Equal(t, "18+", got.AgeRestriction)
	require.NotNil(t, got.Venue())
	assert.Equal(t, "Austin", got.Venue().City)

	_, err = ticketDB.GetEvent(ctx, "nope")
	assert.ErrorIs(t, err, db.ErrEventNotFound)
}

func TestCountTickets(t *testing.T) {
	ticketDB := setupTestDB(t)
	ctx := context.Background()

	first, second := newTicket("ORD-1", 1), newTicket("ORD-1", 2)
	other := newTicket("ORD-2", 1)
	require.NoError(t, ticketDB.CreateTickets(ctx, []models.Ticket{first, second, other, newTicket("ORD-3", 1)}))
	_, err := ticketDB.MarkCheckedIn(ctx, first.TicketID, time.Now())
	require.NoError(t, err)

	// a reissue leaves only the replacement live
	_, err = ticketDB.ReplaceOrderTickets(ctx, "ORD-2", []models.Ticket{newTicket("ORD-2", 1)})
	require.NoError(t, err)

	counts, err := ticketDB.CountTickets(ctx, []string{"ORD-1", "ORD-2"})
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Issued)
	assert.Equal(t, 1, counts.CheckedIn)

	empty, err := ticketDB.CountTickets(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Issued)
}
