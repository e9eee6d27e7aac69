package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/models"
)

const (
	DefaultMaxRetries = 15
	DefaultInterval   = 2 * time.Second
)

type State string

const (
	StateInitializing State = "INITIALIZING"
	StatePolling      State = "POLLING"
	StateConfirmed    State = "CONFIRMED"
	StateNotFound     State = "NOT_FOUND_TERMINAL"
	StateError        State = "ERROR_TERMINAL"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateNotFound || s == StateError
}

var ErrClosed = errors.New("poller closed")

// OrderLookup resolves by order id when set, else by checkout session.
// It returns (nil, nil) when no order matches yet.
type OrderLookup interface {
	LookupOrder(ctx context.Context, orderID, sessionID string) (*models.Order, error)
}

type Config struct {
	SessionID  string
	OrderID    string
	MaxRetries int
	Interval   time.Duration
	// After schedules the next attempt; defaults to time.After.
	After func(time.Duration) <-chan time.Time
	// Wake cuts the current wait short, e.g. when the webhook lands.
	Wake <-chan struct{}
	// OnResolved fires once when a session lookup yields the order id.
	OnResolved func(orderID string)
	// OnChange receives every snapshot, outside the poller's lock.
	OnChange     func(Snapshot)
	SupportEmail string
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// Snapshot is what the confirmation view renders.
type Snapshot struct {
	Order      *models.Order `json:"order,omitempty"`
	Loading    bool          `json:"loading"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
	State      State         `json:"state"`
	Status     string        `json:"status"`
	SessionID  string        `json:"sessionId,omitempty"`
	OrderID    string        `json:"orderId,omitempty"`
}

// Poller reconciles a just-submitted checkout with the order row the payment
// webhook eventually writes. One goroutine drives it and at most one lookup
// is in flight at any time.
type Poller struct {
	lookup OrderLookup
	cfg    Config

	mu        sync.Mutex
	snap      Snapshot
	sessionID string
	orderID   string
	neverSeen bool
	lastErr   error

	gen     uint64
	parent  context.Context
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
	closed  bool

	// snapshots carry a sequence so a slow emitter never publishes an older
	// state after a newer one
	seq     uint64
	emitMu  sync.Mutex
	emitted uint64
}

func New(lookup OrderLookup, cfg Config) *Poller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = "support"
	}

	done := make(chan struct{})
	close(done)

	p := &Poller{lookup: lookup, cfg: cfg, done: done}
	p.resetLocked(cfg.SessionID, cfg.OrderID)
	return p
}

// Start begins polling. The poller stops when ctx ends or Close is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.closed || p.parent != nil {
		p.mu.Unlock()
		return
	}
	p.parent = ctx
	p.launchLocked()
	snap, seq := p.captureLocked()
	p.mu.Unlock()
	p.emit(snap, seq)
}

// FetchOrder triggers a lookup cycle. A manual call resets the attempt
// counter and re-enters polling even after the budget ran out; it also
// cancels any pending wait. A non-manual call only starts a cycle when none
// is running and the poller is not terminal.
func (p *Poller) FetchOrder(manual bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.parent == nil {
		p.parent = context.Background()
	}
	if !manual && (p.running || p.snap.State.Terminal()) {
		p.mu.Unlock()
		return nil
	}
	if manual {
		p.cfg.Logger.LogPoll(p.reference(), "manual retry")
		p.snap.RetryCount = 0
		p.snap.Error = ""
		p.snap.State = StatePolling
		p.snap.Loading = true
		p.snap.Status = "Checking your order again..."
		p.neverSeen = p.snap.Order == nil
		p.lastErr = nil
	}
	p.launchLocked()
	snap, seq := p.captureLocked()
	p.mu.Unlock()
	p.emit(snap, seq)
	return nil
}

// Reset points the poller at a new checkout. The same identity, including a
// reload that now carries the resolved order id, is a no-op; anything else
// cancels the pending cycle and starts over from INITIALIZING.
func (p *Poller) Reset(sessionID, orderID string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if sessionID == p.sessionID && (orderID == "" || orderID == p.orderID) {
		p.mu.Unlock()
		return
	}
	p.resetLocked(sessionID, orderID)
	if p.parent != nil {
		p.launchLocked()
	}
	snap, seq := p.captureLocked()
	p.mu.Unlock()
	p.emit(snap, seq)
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Done is closed when the current cycle stops, whether terminal, cancelled
// or superseded.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Close cancels any pending wait or lookup. It is safe to call twice.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.gen++
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) resetLocked(sessionID, orderID string) {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.sessionID = sessionID
	p.orderID = orderID
	p.neverSeen = true
	p.lastErr = nil
	p.snap = Snapshot{
		Loading:    true,
		MaxRetries: p.cfg.MaxRetries,
		State:      StateInitializing,
		Status:     "Confirming your payment...",
		SessionID:  sessionID,
		OrderID:    orderID,
	}
}

// launchLocked supersedes the running cycle. The new goroutine waits for the
// old one to exit so lookups never overlap.
func (p *Poller) launchLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(p.parent)
	prev := p.done
	done := make(chan struct{})

	p.cancel = cancel
	p.done = done
	p.running = true
	go p.run(ctx, p.gen, prev, done)
}

func (p *Poller) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer p.finish(gen)

	select {
	case <-prev:
	case <-ctx.Done():
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		orderID, sessionID, ok := p.identity(gen)
		if !ok {
			return
		}

		order, err := p.lookup.LookupOrder(ctx, orderID, sessionID)
		if ctx.Err() != nil {
			return
		}
		if p.apply(gen, order, err) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-p.cfg.After(p.cfg.Interval):
		case <-p.cfg.Wake:
		}
	}
}

func (p *Poller) identity(gen uint64) (string, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return "", "", false
	}
	if p.snap.State == StateInitializing {
		p.snap.State = StatePolling
	}
	p.snap.Loading = true
	return p.orderID, p.sessionID, true
}

func (p *Poller) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen == p.gen {
		p.running = false
	}
}

// apply records one lookup outcome and reports whether polling is over.
func (p *Poller) apply(gen uint64, order *models.Order, err error) bool {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return true
	}

	var resolved string
	limit := p.cfg.MaxRetries
	ref := p.reference()

	switch {
	case err != nil:
		p.cfg.Metrics.PollAttempt("error")
		p.lastErr = err
		p.snap.RetryCount++
		p.snap.Status = fmt.Sprintf("Having trouble reaching our servers, retrying (%d/%d)...", p.snap.RetryCount, limit)
		p.cfg.Logger.Warn("POLLER", fmt.Sprintf("[%s] lookup failed: %v", ref, err))

	case order == nil:
		p.cfg.Metrics.PollAttempt("not_found")
		p.lastErr = nil
		p.snap.RetryCount++
		p.snap.Status = fmt.Sprintf("Looking for your order (%d/%d)...", p.snap.RetryCount, limit)

	default:
		p.lastErr = nil
		p.neverSeen = false
		o := *order
		p.snap.Order = &o
		if p.orderID == "" && o.ID != "" {
			p.orderID = o.ID
			p.snap.OrderID = o.ID
			resolved = o.ID
		}
		if o.IsPaid() {
			p.cfg.Metrics.PollAttempt("paid")
			p.cfg.Metrics.PollTerminal(string(StateConfirmed))
			p.snap.State = StateConfirmed
			p.snap.Loading = false
			p.snap.Error = ""
			p.snap.Status = "Payment confirmed"
			p.cfg.Logger.LogPoll(ref, fmt.Sprintf("confirmed order %s", o.ID))
			return p.unlockAndNotify(resolved, true)
		}
		p.cfg.Metrics.PollAttempt("unpaid")
		p.snap.RetryCount++
		p.snap.Status = "Payment is processing..."
	}

	if p.snap.RetryCount >= limit {
		state := StateError
		if p.neverSeen && p.lastErr == nil {
			state = StateNotFound
		}
		p.snap.State = state
		p.snap.Loading = false
		p.snap.Error = fmt.Sprintf("We couldn't confirm your order yet. Please check your email for your tickets or contact %s.", p.cfg.SupportEmail)
		p.snap.Status = p.snap.Error
		p.cfg.Metrics.PollTerminal(string(state))
		p.cfg.Logger.LogPoll(ref, fmt.Sprintf("gave up after %d attempts (%s)", p.snap.RetryCount, state))
		return p.unlockAndNotify(resolved, true)
	}

	p.snap.State = StatePolling
	return p.unlockAndNotify(resolved, false)
}

// unlockAndNotify releases p.mu, then runs callbacks.
func (p *Poller) unlockAndNotify(resolved string, terminal bool) bool {
	snap, seq := p.captureLocked()
	p.mu.Unlock()

	if resolved != "" && p.cfg.OnResolved != nil {
		p.cfg.OnResolved(resolved)
	}
	p.emit(snap, seq)
	return terminal
}

func (p *Poller) captureLocked() (Snapshot, uint64) {
	p.seq++
	return p.snap, p.seq
}

func (p *Poller) emit(snap Snapshot, seq uint64) {
	if p.cfg.OnChange == nil {
		return
	}
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if seq <= p.emitted {
		return
	}
	p.emitted = seq
	p.cfg.OnChange(snap)
}

func (p *Poller) reference() string {
	if p.orderID != "" {
		return p.orderID
	}
	return p.sessionID
}
