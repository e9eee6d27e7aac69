package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	ticketsIssued   *prometheus.CounterVec
	renderFallbacks *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	webhookEvents   *prometheus.CounterVec
	pollAttempts    *prometheus.CounterVec
	pollOutcomes    *prometheus.CounterVec
	mailDeliveries  *prometheus.CounterVec
	ticketVerifies  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticketsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets signed, rendered and stored.",
		}, []string{"reason"}),
		renderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_render_fallbacks_total",
			Help: "Renders that degraded to a fallback font or QR placeholder.",
		}, []string{"kind"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_render_duration_seconds",
			Help:    "Time to render one ticket PDF.",
			Buckets: prometheus.DefBuckets,
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stripe_webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_poll_attempts_total",
			Help: "Reconciliation lookups by result.",
		}, []string{"result"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_poll_terminal_total",
			Help: "Reconciliation pollers reaching a terminal state.",
		}, []string{"state"}),
		mailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_mail_deliveries_total",
			Help: "Ticket emails by outcome.",
		}, []string{"outcome"}),
		ticketVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_verifications_total",
			Help: "Ticket scans by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.ticketsIssued,
		m.renderFallbacks,
		m.renderDuration,
		m.webhookEvents,
		m.pollAttempts,
		m.pollOutcomes,
		m.mailDeliveries,
		m.ticketVerifies,
	)
	return m
}

func (m *Metrics) TicketsIssued(reason string, n int) {
	if m == nil {
		return
	}
	m.ticketsIssued.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RenderFallback(kind string) {
	if m == nil {
		return
	}
	m.renderFallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) PollAttempt(result string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) PollTerminal(state string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) MailDelivery(outcome string) {
	if m == nil {
		return
	}
	m.mailDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TicketVerified(result string) {
	if m == nil {
		return
	}
	m.ticketVerifies.WithLabelValues(result).Inc()
}
