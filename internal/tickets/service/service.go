package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/mailer"
	"ms-tickets/internal/metrics"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/db"
	"ms-tickets/internal/tickets/qr"
	"ms-tickets/internal/tickets/signing"
	"ms-tickets/internal/tickets/template"
	"ms-tickets/internal/tickets/theme"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderNotPaid     = errors.New("order is not paid")
	ErrMissingEvent     = errors.New("order has no event")
	ErrInvalidTicket    = errors.New("invalid ticket")
	ErrTicketSuperseded = errors.New("ticket has been reissued")
	ErrTicketNotFound   = db.ErrTicketNotFound
)

const defaultTicketType = "standard"

type TicketDBLayer interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketBySignature(ctx context.Context, signature string) (*models.Ticket, error)
	ActiveTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	ReplaceOrderTickets(ctx context.Context, orderID string, tickets []models.Ticket) (int64, error)
	MarkCheckedIn(ctx context.Context, ticketID string, at time.Time) (bool, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// OrderLookup returns (nil, nil) for an unknown order.
type OrderLookup interface {
	FindOrderByID(ctx context.Context, id string) (*models.Order, error)
	MarkConfirmationSent(ctx context.Context, id string) error
}

type Renderer interface {
	Render(in template.Input, th theme.Config, qrOpts qr.Options) (*template.Document, error)
}

type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type EventPublisher interface {
	PublishTicketIssued(ctx context.Context, event kafka.TicketIssuedEvent) error
}

// TicketService signs, renders, stores and mails tickets for paid orders.
// Mailer and Publisher are optional.
type TicketService struct {
	DB           TicketDBLayer
	Orders       OrderLookup
	Signer       *signing.Signer
	Renderer     Renderer
	Mailer       Mailer
	Publisher    EventPublisher
	Theme        theme.Config
	QR           qr.Options
	SupportEmail string
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

type IssueResult struct {
	Order         models.Order
	Tickets       []models.Ticket
	Documents     []*template.Document
	AlreadyIssued bool
	Reissued      bool
	Emailed       bool
}

type VerifyResult struct {
	Ticket           models.Ticket
	AlreadyCheckedIn bool
}

func (s *TicketService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IssueForOrder issues one ticket per seat of a paid order and emails them.
// Repeated calls for an order that already has tickets do not create new
// ones; they only retry the email if it never went out.
func (s *TicketService) IssueForOrder(ctx context.Context, orderID string) (*IssueResult, error) {
	return s.issue(ctx, orderID, false)
}

// ReissueForOrder replaces the order's tickets with freshly signed ones and
// emails them. Previous tickets stop verifying.
func (s *TicketService) ReissueForOrder(ctx context.Context, orderID string) (*IssueResult, error) {
	return s.issue(ctx, orderID, true)
}

// ResendForOrder mails the order's current tickets again even when the
// confirmation already went out. Orders without tickets are issued first.
func (s *TicketService) ResendForOrder(ctx context.Context, orderID string) (*IssueResult, error) {
	order, err := s.paidOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	event, err := s.eventFor(ctx, order)
	if err != nil {
		return nil, err
	}
	existing, err := s.DB.ActiveTicketsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load tickets for order %s: %w", order.ID, err)
	}
	if len(existing) == 0 {
		return s.issue(ctx, orderID, false)
	}
	return s.redeliver(ctx, *order, event, existing)
}

func (s *TicketService) redeliver(ctx context.Context, order models.Order, event *models.Event, existing []models.Ticket) (*IssueResult, error) {
	result := &IssueResult{Order: order, Tickets: existing, AlreadyIssued: true}
	for i := range existing {
		doc, err := s.renderStored(existing[i], order, event, s.Theme)
		if err != nil {
			return nil, err
		}
		result.Documents = append(result.Documents, doc)
	}
	result.Emailed = s.deliver(ctx, order, event, result.Documents)
	return result, nil
}

func (s *TicketService) issue(ctx context.Context, orderID string, reissue bool) (*IssueResult, error) {
	order, err := s.paidOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	event, err := s.eventFor(ctx, order)
	if err != nil {
		return nil, err
	}

	existing, err := s.DB.ActiveTicketsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load tickets for order %s: %w", order.ID, err)
	}

	result := &IssueResult{Order: *order, Reissued: reissue}

	if len(existing) > 0 && !reissue {
		if order.ConfirmationSent {
			s.Logger.LogTicket("ISSUE", order.ID, "tickets already issued and emailed")
			result.AlreadyIssued = true
			result.Tickets = existing
			return result, nil
		}
		return s.redeliver(ctx, *order, event, existing)
	}

	issuedAt := s.now().UTC().Truncate(time.Millisecond)
	for seq := 1; seq <= order.TicketCount(); seq++ {
		// seats of one order differ only by issue instant
		signedAt := issuedAt.Add(time.Duration(seq-1) * time.Millisecond)
		ticket, doc, err := s.build(*order, event, seq, signedAt)
		if err != nil {
			return nil, err
		}
		result.Tickets = append(result.Tickets, ticket)
		result.Documents = append(result.Documents, doc)
	}

	reason := "issue"
	if reissue {
		reason = "reissue"
		n, err := s.DB.ReplaceOrderTickets(ctx, order.ID, result.Tickets)
		if err != nil {
			return nil, fmt.Errorf("replace tickets for order %s: %w", order.ID, err)
		}
		s.Logger.LogTicket("REISSUE", order.ID, fmt.Sprintf("superseded %d ticket(s)", n))
	} else if err := s.DB.CreateTickets(ctx, result.Tickets); err != nil {
		if errors.Is(err, db.ErrAlreadyIssued) {
			return s.storedByOtherIssuer(ctx, *order)
		}
		return nil, fmt.Errorf("store tickets for order %s: %w", order.ID, err)
	}
	s.Metrics.TicketsIssued(reason, len(result.Tickets))
	s.Logger.LogTicket(strings.ToUpper(reason), order.ID, fmt.Sprintf("%d ticket(s) stored", len(result.Tickets)))

	result.Emailed = s.deliver(ctx, *order, event, result.Documents)
	s.publishIssued(ctx, result)
	return result, nil
}

// storedByOtherIssuer reports the set a concurrent issuer committed first.
// That issuer owns the email.
func (s *TicketService) storedByOtherIssuer(ctx context.Context, order models.Order) (*IssueResult, error) {
	stored, err := s.DB.ActiveTicketsByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load tickets for order %s: %w", order.ID, err)
	}
	s.Logger.LogTicket("ISSUE", order.ID, fmt.Sprintf("%d ticket(s) already stored by a concurrent issuer", len(stored)))
	return &IssueResult{Order: order, Tickets: stored, AlreadyIssued: true}, nil
}

func (s *TicketService) paidOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.Orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !order.IsPaid() {
		return nil, fmt.Errorf("%w: %s is %q", ErrOrderNotPaid, order.ID, order.PaymentStatus)
	}
	return order, nil
}

func (s *TicketService) eventFor(ctx context.Context, order *models.Order) (*models.Event, error) {
	if order.EventID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingEvent, order.ID)
	}
	event, err := s.DB.GetEvent(ctx, order.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", order.EventID, err)
	}
	return event, nil
}

func (s *TicketService) build(order models.Order, event *models.Event, seq int, signedAt time.Time) (models.Ticket, *template.Document, error) {
	payload := payloadFor(order, event)
	ts := signedAt.Format(signing.TimestampLayout)

	token, qrPayload, err := s.Signer.Issue(signing.FieldsFor(payload, ts))
	if err != nil {
		return models.Ticket{}, nil, fmt.Errorf("sign ticket %d of order %s: %w", seq, order.ID, err)
	}

	doc, err := s.render(template.Input{Ticket: payload, QRPayload: qrPayload, IssuedAt: signedAt}, s.Theme)
	if err != nil {
		return models.Ticket{}, nil, err
	}

	ticket := models.Ticket{
		TicketID:     uuid.New().String(),
		OrderID:      order.ID,
		Sequence:     seq,
		AttendeeName: payload.AttendeeName,
		EventName:    payload.EventName,
		EventDate:    payload.EventDate,
		TicketType:   payload.TicketType,
		SignedAt:     ts,
		Signature:    token.Signature,
		QRPayload:    qrPayload,
		QRCode:       doc.QRImage,
		IssuedAt:     signedAt,
	}
	return ticket, doc, nil
}

func (s *TicketService) render(in template.Input, th theme.Config) (*template.Document, error) {
	start := time.Now()
	doc, err := s.Renderer.Render(in, th, s.QR)
	s.Metrics.ObserveRender(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("render ticket for order %s: %w", in.Ticket.OrderID, err)
	}
	if doc.Layout.FontFallback {
		s.Metrics.RenderFallback("font")
	}
	if doc.Layout.QRPlaceholder {
		s.Metrics.RenderFallback("qr_placeholder")
		s.Logger.Warn("TICKET", fmt.Sprintf("Order %s ticket rendered without QR code", in.Ticket.OrderID))
	}
	return doc, nil
}

// renderStored redraws a persisted ticket. The signed fields come from the
// row so the QR and the printed text always agree.
func (s *TicketService) renderStored(t models.Ticket, order models.Order, event *models.Event, th theme.Config) (*template.Document, error) {
	payload := payloadFor(order, event)
	payload.OrderID = t.OrderID
	payload.AttendeeName = t.AttendeeName
	payload.EventName = t.EventName
	payload.EventDate = t.EventDate
	payload.TicketType = t.TicketType

	issuedAt, _ := time.Parse(signing.TimestampLayout, t.SignedAt)
	return s.render(template.Input{Ticket: payload, QRPayload: t.QRPayload, QRImage: t.QRCode, IssuedAt: issuedAt}, th)
}

// deliver mails the documents. Failure is logged and reported, never returned:
// the tickets exist regardless of email.
func (s *TicketService) deliver(ctx context.Context, order models.Order, event *models.Event, docs []*template.Document) bool {
	if s.Mailer == nil {
		return false
	}
	if order.CustomerEmail == "" {
		s.Logger.Warn("MAIL", fmt.Sprintf("Order %s has no customer email, tickets not sent", order.ID))
		s.Metrics.MailDelivery("skipped")
		return false
	}

	msg := ticketMessage(order, event, docs, s.SupportEmail)
	if err := s.Mailer.Send(ctx, msg); err != nil {
		s.Logger.Error("MAIL", fmt.Sprintf("Tickets for order %s not delivered: %v", order.ID, err))
		s.Metrics.MailDelivery("failed")
		return false
	}
	s.Metrics.MailDelivery("sent")

	if err := s.Orders.MarkConfirmationSent(ctx, order.ID); err != nil {
		s.Logger.Error("DATABASE", fmt.Sprintf("Could not mark confirmation sent for order %s: %v", order.ID, err))
	}
	return true
}

func (s *TicketService) publishIssued(ctx context.Context, result *IssueResult) {
	if s.Publisher == nil {
		return
	}
	ids := make([]string, len(result.Tickets))
	for i, t := range result.Tickets {
		ids[i] = t.TicketID
	}
	err := s.Publisher.PublishTicketIssued(ctx, kafka.TicketIssuedEvent{
		OrderID:   result.Order.ID,
		TicketIDs: ids,
		Reissue:   result.Reissued,
		Emailed:   result.Emailed,
		IssuedAt:  s.now().UTC(),
	})
	if err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("ticket.issued for order %s not published: %v", result.Order.ID, err))
	}
}

// ListTickets returns the order's current tickets.
func (s *TicketService) ListTickets(ctx context.Context, orderID string) ([]models.Ticket, error) {
	tickets, err := s.DB.ActiveTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// RenderTicket redraws a stored ticket for download. An empty theme name uses
// the service default.
func (s *TicketService) RenderTicket(ctx context.Context, ticketID, themeName string) (*models.Ticket, *template.Document, error) {
	th := s.Theme
	if themeName != "" {
		var err error
		if th, err = theme.Get(themeName); err != nil {
			return nil, nil, err
		}
	}

	ticket, err := s.DB.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.Superseded {
		return nil, nil, fmt.Errorf("%w: %s", ErrTicketSuperseded, ticketID)
	}

	var order models.Order
	if o, err := s.Orders.FindOrderByID(ctx, ticket.OrderID); err == nil && o != nil {
		order = *o
	}
	var event *models.Event
	if order.EventID != "" {
		if ev, err := s.DB.GetEvent(ctx, order.EventID); err == nil {
			event = ev
		}
	}

	doc, err := s.renderStored(*ticket, order, event, th)
	if err != nil {
		return nil, nil, err
	}
	return ticket, doc, nil
}

// Verify checks a scanned QR payload and records the check-in. A bad
// signature is always ErrInvalidTicket.
func (s *TicketService) Verify(ctx context.Context, payload string) (*VerifyResult, error) {
	token, err := s.Signer.VerifyPayload(payload)
	if err != nil {
		s.Metrics.TicketVerified("invalid")
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}

	ticket, err := s.DB.GetTicketBySignature(ctx, token.Signature)
	if err != nil {
		if errors.Is(err, db.ErrTicketNotFound) {
			s.Metrics.TicketVerified("unknown")
		}
		return nil, err
	}
	if ticket.Superseded {
		s.Metrics.TicketVerified("superseded")
		return nil, fmt.Errorf("%w: %s", ErrTicketSuperseded, ticket.TicketID)
	}

	already, err := s.DB.MarkCheckedIn(ctx, ticket.TicketID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("check in ticket %s: %w", ticket.TicketID, err)
	}
	if already {
		s.Metrics.TicketVerified("duplicate")
		s.Logger.Warn("TICKET", fmt.Sprintf("Ticket %s scanned again", ticket.TicketID))
	} else {
		s.Metrics.TicketVerified("valid")
		ticket.CheckedIn = true
		s.Logger.LogTicket("CHECKIN", ticket.TicketID, "checked in")
	}
	return &VerifyResult{Ticket: *ticket, AlreadyCheckedIn: already}, nil
}

func payloadFor(order models.Order, event *models.Event) models.TicketPayload {
	p := models.TicketPayload{
		OrderID:      order.ID,
		AttendeeName: order.CustomerName,
		TicketType:   order.TicketType,
		PriceText:    FormatPrice(order.Amount, order.Currency, order.TicketCount()),
	}
	if p.AttendeeName == "" {
		p.AttendeeName = order.CustomerEmail
	}
	if p.TicketType == "" {
		p.TicketType = defaultTicketType
	}
	if event != nil {
		p.EventName = event.Name
		p.EventDate = event.StartsAt.UTC().Format(time.RFC3339)
		p.Venue = event.Venue()
		p.Location = event.Location
		p.DoorTime = event.DoorTime
		p.ShowTime = event.ShowTime
		p.AgeRestriction = event.AgeRestriction
		p.Genre = event.Genre
	}
	return p
}

var currencySymbols = map[string]string{
	"usd": "$",
	"cad": "CA$",
	"aud": "A$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
}

// zero-decimal currencies are charged in whole units
var zeroDecimal = map[string]bool{"jpy": true, "krw": true, "vnd": true}

// FormatPrice renders the per-ticket price from an order total in minor units.
func FormatPrice(amount int64, currency string, quantity int) string {
	if amount <= 0 {
		return "Free"
	}
	if quantity < 1 {
		quantity = 1
	}
	cur := strings.ToLower(currency)
	exp, places := int32(-2), int32(2)
	if zeroDecimal[cur] {
		exp, places = 0, 0
	}
	each := decimal.New(amount, exp).Div(decimal.NewFromInt(int64(quantity))).StringFixed(places)

	if sym, ok := currencySymbols[cur]; ok {
		return sym + each
	}
	if cur == "" {
		return each
	}
	return strings.ToUpper(cur) + " " + each
}
