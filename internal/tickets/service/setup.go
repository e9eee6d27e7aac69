package tickets

import (
	"context"
	"errors"
	"fmt"

	"ms-tickets/internal/config"
	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/tickets/qr"
	"ms-tickets/internal/tickets/signing"
	"ms-tickets/internal/tickets/template"
	"ms-tickets/internal/tickets/theme"
)

// NewTicketService builds the signer, renderer and defaults from config.
// Mailer and publisher may be nil.
func NewTicketService(cfg *config.Config, store TicketDBLayer, orders OrderLookup, mail Mailer, publisher EventPublisher, log *logger.Logger, m *metrics.Metrics) (*TicketService, error) {
	if log == nil {
		log = logger.NewNop()
	}

	signer, err := signing.NewSigner(cfg.Tickets.SigningSecret, signing.WithMaxAge(cfg.Tickets.MaxAge))
	if err != nil {
		return nil, err
	}

	level, err := qr.ParseLevel(cfg.Tickets.QRLevel)
	if err != nil {
		return nil, err
	}

	th, err := theme.Get(cfg.Tickets.Theme)
	if err != nil {
		log.Warn("CONFIG", fmt.Sprintf("%v, using the default theme", err))
		th = theme.GetOrDefault("")
	}

	fonts := template.LoadFonts(cfg.Tickets.FontPath, cfg.Tickets.BoldFontPath, log)
	if fonts.Fallback {
		m.RenderFallback("font")
	}

	return &TicketService{
		DB:           store,
		Orders:       orders,
		Signer:       signer,
		Renderer:     template.NewRenderer(fonts, log),
		Mailer:       mail,
		Publisher:    publisher,
		Theme:        th,
		QR:           qr.Options{Level: level, Size: cfg.Tickets.QRSize, Margin: qr.Modules(cfg.Tickets.QRMargin)},
		SupportEmail: cfg.Email.SupportEmail,
		Logger:       log,
		Metrics:      m,
	}, nil
}

// HandleOrderPaid is the order.paid consumer callback. Orders that are gone
// or not paid can never succeed, so they are dropped instead of redelivered.
func (s *TicketService) HandleOrderPaid(ctx context.Context, event kafka.OrderPaidEvent) error {
	res, err := s.IssueForOrder(ctx, event.OrderID)
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrOrderNotPaid), errors.Is(err, ErrMissingEvent):
		s.Logger.Warn("KAFKA", fmt.Sprintf("Skipping order.paid for %s: %v", event.OrderID, err))
		return nil
	case err != nil:
		return err
	}
	if res.AlreadyIssued {
		s.Logger.Debug("KAFKA", fmt.Sprintf("Tickets for %s were already issued", event.OrderID))
	}
	return nil
}
