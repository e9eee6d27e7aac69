package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/models"
)

type lookupCall struct {
	orderID   string
	sessionID string
}

type scriptedLookup struct {
	mu      sync.Mutex
	calls   []lookupCall
	respond func(n int, orderID, sessionID string) (*models.Order, error)
	// gate, when set, holds every lookup until it receives
	gate chan struct{}

	inFlight    int32
	maxInFlight int32
}

func (l *scriptedLookup) LookupOrder(ctx context.Context, orderID, sessionID string) (*models.Order, error) {
	cur := atomic.AddInt32(&l.inFlight, 1)
	defer atomic.AddInt32(&l.inFlight, -1)
	for {
		old := atomic.LoadInt32(&l.maxInFlight)
		if cur <= old || atomic.CompareAndSwapInt32(&l.maxInFlight, old, cur) {
			break
		}
	}

	l.mu.Lock()
	l.calls = append(l.calls, lookupCall{orderID, sessionID})
	n := len(l.calls)
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.respond(n, orderID, sessionID)
}

func (l *scriptedLookup) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *scriptedLookup) call(i int) lookupCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[i]
}

// instantClock fires every wait immediately and records the requested
// intervals.
type instantClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *instantClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

// never returns a channel that never fires, so a cycle parks between
// attempts.
func never(time.Duration) <-chan time.Time { return nil }

func paid(id string) *models.Order {
	return &models.Order{ID: id, PaymentStatus: models.PaymentStatusPaid, Status: models.OrderStatusCompleted}
}

func pending(id string) *models.Order {
	return &models.Order{ID: id, PaymentStatus: models.PaymentStatusPending, Status: models.OrderStatusPending}
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestNotFoundTerminalAfterExactlyMaxRetries(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	clock := &instantClock{}
	p := New(lookup, Config{SessionID: "cs_1", After: clock.After, SupportEmail: "help@example.com"})

	p.Start(context.Background())
	waitDone(t, p)

	snap := p.Snapshot()
	assert.Equal(t, StateNotFound, snap.State)
	assert.Equal(t, 15, snap.RetryCount)
	assert.Equal(t, 15, snap.MaxRetries)
	assert.False(t, snap.Loading)
	assert.Contains(t, snap.Error, "help@example.com")
	assert.Nil(t, snap.Order)

	assert.Equal(t, 15, lookup.count())
	// no wait is scheduled after the last attempt
	assert.Equal(t, 14, clock.count())
	for _, d := range clock.waits {
		assert.Equal(t, DefaultInterval, d)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 15, lookup.count(), "no 16th attempt")
}

func TestConfirmedOnFourthAttempt(t *testing.T) {
	lookup := &scriptedLookup{respond: func(n int, _, _ string) (*models.Order, error) {
		if n < 4 {
			return pending("ORD-1"), nil
		}
		return paid("ORD-1"), nil
	}}
	var statuses []string
	var mu sync.Mutex
	p := New(lookup, Config{
		OrderID: "ORD-1",
		After:   (&instantClock{}).After,
		OnChange: func(s Snapshot) {
			mu.Lock()
			statuses = append(statuses, s.Status)
			mu.Unlock()
		},
	})

	p.Start(context.Background())
	waitDone(t, p)

	snap := p.Snapshot()
	assert.Equal(t, StateConfirmed, snap.State)
	assert.Equal(t, 3, snap.RetryCount)
	require.NotNil(t, snap.Order)
	assert.True(t, snap.Order.IsPaid())
	assert.Empty(t, snap.Error)
	assert.Equal(t, 4, lookup.count(), "no 5th attempt")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, "Payment is processing...")
	assert.Equal(t, "Payment confirmed", statuses[len(statuses)-1])
}

func TestStatusCopyPerOutcome(t *testing.T) {
	lookup := &scriptedLookup{respond: func(n int, _, _ string) (*models.Order, error) {
		switch n {
		case 1:
			return nil, nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return paid("ORD-1"), nil
		}
	}}
	var statuses []string
	var mu sync.Mutex
	p := New(lookup, Config{SessionID: "cs_1", MaxRetries: 5, After: (&instantClock{}).After, OnChange: func(s Snapshot) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
	}})

	p.Start(context.Background())
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, "Looking for your order (1/5)...")
	assert.Contains(t, statuses, "Having trouble reaching our servers, retrying (2/5)...")
	assert.Equal(t, StateConfirmed, p.Snapshot().State)
}

func TestErrorTerminalWhenLastAttemptFails(t *testing.T) {
	lookup := &scriptedLookup{respond: func(n int, _, _ string) (*models.Order, error) {
		if n == 1 {
			return nil, nil
		}
		return nil, errors.New("db down")
	}}
	p := New(lookup, Config{SessionID: "cs_1", MaxRetries: 3, After: (&instantClock{}).After})

	p.Start(context.Background())
	waitDone(t, p)

	assert.Equal(t, StateError, p.Snapshot().State)
	assert.Equal(t, 3, lookup.count())
}

func TestErrorTerminalWhenFoundButNeverPaid(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return pending("ORD-9"), nil }}
	p := New(lookup, Config{OrderID: "ORD-9", MaxRetries: 4, After: (&instantClock{}).After})

	p.Start(context.Background())
	waitDone(t, p)

	snap := p.Snapshot()
	assert.Equal(t, StateError, snap.State)
	require.NotNil(t, snap.Order)
	assert.False(t, snap.Order.IsPaid(), "never confirmed before paid is observed")
}

func TestOnlyPaidStatusConfirms(t *testing.T) {
	for _, status := range []models.PaymentStatus{models.PaymentStatusNoPaymentRequired, models.PaymentStatusPending} {
		t.Run(string(status), func(t *testing.T) {
			lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) {
				return &models.Order{ID: "ORD-5", PaymentStatus: status, Status: models.OrderStatusCompleted}, nil
			}}
			p := New(lookup, Config{OrderID: "ORD-5", MaxRetries: 3, After: (&instantClock{}).After})

			p.Start(context.Background())
			waitDone(t, p)

			snap := p.Snapshot()
			assert.Equal(t, StateError, snap.State)
			assert.Equal(t, 3, lookup.count(), "keeps polling until the budget runs out")
			assert.Equal(t, 3, snap.RetryCount)
		})
	}
}

func TestManualRetryResetsAfterExhaustion(t *testing.T) {
	var found atomic.Bool
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) {
		if found.Load() {
			return paid("ORD-1"), nil
		}
		return nil, nil
	}}
	p := New(lookup, Config{SessionID: "cs_1", MaxRetries: 3, After: (&instantClock{}).After})

	p.Start(context.Background())
	waitDone(t, p)
	require.Equal(t, StateNotFound, p.Snapshot().State)

	// the automatic budget stays spent
	require.NoError(t, p.FetchOrder(false))
	waitDone(t, p)
	assert.Equal(t, 3, lookup.count())

	gate := make(chan struct{})
	lookup.mu.Lock()
	lookup.gate = gate
	lookup.mu.Unlock()
	found.Store(true)

	require.NoError(t, p.FetchOrder(true))
	snap := p.Snapshot()
	assert.Equal(t, 0, snap.RetryCount)
	assert.Equal(t, StatePolling, snap.State)
	assert.True(t, snap.Loading)
	assert.Empty(t, snap.Error)

	close(gate)
	waitDone(t, p)
	assert.Equal(t, StateConfirmed, p.Snapshot().State)
	assert.Equal(t, 4, lookup.count())
}

func TestManualRetryGetsFreshBudget(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	p := New(lookup, Config{SessionID: "cs_1", MaxRetries: 2, After: (&instantClock{}).After})

	p.Start(context.Background())
	waitDone(t, p)
	require.NoError(t, p.FetchOrder(true))
	waitDone(t, p)

	assert.Equal(t, 4, lookup.count())
	assert.Equal(t, 2, p.Snapshot().RetryCount)
	assert.Equal(t, StateNotFound, p.Snapshot().State)
}

func TestSessionResolutionSwitchesToOrderID(t *testing.T) {
	lookup := &scriptedLookup{respond: func(n int, _, _ string) (*models.Order, error) {
		if n < 3 {
			return pending("ORD-42"), nil
		}
		return paid("ORD-42"), nil
	}}
	var resolved []string
	p := New(lookup, Config{
		SessionID:  "cs_42",
		After:      (&instantClock{}).After,
		OnResolved: func(id string) { resolved = append(resolved, id) },
	})

	p.Start(context.Background())
	waitDone(t, p)

	assert.Equal(t, []string{"ORD-42"}, resolved)
	assert.Equal(t, lookupCall{"", "cs_42"}, lookup.call(0))
	assert.Equal(t, lookupCall{"ORD-42", "cs_42"}, lookup.call(1))
	assert.Equal(t, "ORD-42", p.Snapshot().OrderID)

	// a reload that now carries the resolved id is the same checkout
	p.Reset("cs_42", "ORD-42")
	assert.Equal(t, StateConfirmed, p.Snapshot().State)
}

func TestLegacyAndCurrentRowsConfirmAlike(t *testing.T) {
	rows := map[string]map[string]interface{}{
		"legacy": {
			"id": "ORD-7", "customer_email": "a@example.com", "payment_status": "paid",
			"stripe_session_id": "cs_7", "created_at": "2024-07-01 12:00:00+00:00",
		},
		"current": {
			"id": "ORD-7", "customerEmail": "a@example.com", "paymentStatus": "paid",
			"stripeSessionId": "cs_7", "createdAt": "2024-07-01T12:00:00Z",
		},
	}

	var orders []*models.Order
	for _, name := range []string{"legacy", "current"} {
		row := rows[name]
		lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) {
			o, err := models.NormalizeOrderRow(row)
			return &o, err
		}}
		p := New(lookup, Config{SessionID: "cs_7", After: (&instantClock{}).After})
		p.Start(context.Background())
		waitDone(t, p)

		snap := p.Snapshot()
		assert.Equal(t, StateConfirmed, snap.State, name)
		orders = append(orders, snap.Order)
	}
	assert.Equal(t, *orders[0], *orders[1])
}

func TestCloseCancelsPendingWait(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	p := New(lookup, Config{SessionID: "cs_1", After: never})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return lookup.count() == 1 }, time.Second, time.Millisecond)

	p.Close()
	p.Close()
	waitDone(t, p)
	assert.Equal(t, 1, lookup.count())
	assert.ErrorIs(t, p.FetchOrder(true), ErrClosed)
}

func TestContextCancellationStopsPolling(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	p := New(lookup, Config{SessionID: "cs_1", After: never})
	ctx, cancel := context.WithCancel(context.Background())

	p.Start(ctx)
	require.Eventually(t, func() bool { return lookup.count() == 1 }, time.Second, time.Millisecond)
	cancel()
	waitDone(t, p)
	assert.Equal(t, 1, lookup.count())
}

func TestWakeShortCutsWait(t *testing.T) {
	wake := make(chan struct{}, 1)
	lookup := &scriptedLookup{respond: func(n int, _, _ string) (*models.Order, error) {
		if n == 1 {
			return nil, nil
		}
		return paid("ORD-1"), nil
	}}
	p := New(lookup, Config{SessionID: "cs_1", After: never, Wake: wake})

	p.Start(context.Background())
	require.Eventually(t, func() bool { return lookup.count() == 1 }, time.Second, time.Millisecond)

	wake <- struct{}{}
	waitDone(t, p)
	assert.Equal(t, StateConfirmed, p.Snapshot().State)
}

func TestResetWithNewIdentityRestarts(t *testing.T) {
	lookup := &scriptedLookup{respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	p := New(lookup, Config{SessionID: "cs_a", After: never})
	defer p.Close()

	p.Start(context.Background())
	require.Eventually(t, func() bool { return lookup.count() == 1 }, time.Second, time.Millisecond)

	p.Reset("cs_a", "")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, lookup.count(), "same identity keeps the cycle")

	p.Reset("cs_b", "")
	require.Eventually(t, func() bool { return lookup.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, lookupCall{"", "cs_b"}, lookup.call(1))

	require.Eventually(t, func() bool { return p.Snapshot().RetryCount == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "cs_b", p.Snapshot().SessionID)
}

func TestSingleLookupInFlight(t *testing.T) {
	gate := make(chan struct{})
	lookup := &scriptedLookup{gate: gate, respond: func(int, string, string) (*models.Order, error) { return nil, nil }}
	p := New(lookup, Config{SessionID: "cs_1", MaxRetries: 50, After: (&instantClock{}).After})
	defer p.Close()

	p.Start(context.Background())
	for i := 0; i < 10; i++ {
		require.NoError(t, p.FetchOrder(i%2 == 0))
	}

	// let every lookup through one by one
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-time.After(200 * time.Millisecond):
				return
			}
		}
	}()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.maxInFlight))
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(&scriptedLookup{}, Config{})
	snap := p.Snapshot()
	assert.Equal(t, StateInitializing, snap.State)
	assert.Equal(t, DefaultMaxRetries, snap.MaxRetries)
	assert.True(t, snap.Loading)
	assert.True(t, StateConfirmed.Terminal())
	assert.False(t, StatePolling.Terminal())
}
