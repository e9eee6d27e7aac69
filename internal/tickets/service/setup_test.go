package tickets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/config"
	"ms-tickets/internal/kafka"
	"ms-tickets/internal/logger"
	"ms-tickets/internal/tickets/qr"
	tickets "ms-tickets/internal/tickets/service"
	"ms-tickets/internal/tickets/signing"
)

func testConfig() *config.Config {
	return &config.Config{
		Email: config.EmailConfig{SupportEmail: "help@example.com"},
		Tickets: config.TicketConfig{
			SigningSecret: "s3cret",
			Theme:         "classic",
			FontPath:      "/nonexistent/regular.ttf",
			BoldFontPath:  "/nonexistent/bold.ttf",
			QRLevel:       "h",
			QRSize:        256,
			QRMargin:      2,
		},
	}
}

func TestNewTicketServiceFromConfig(t *testing.T) {
	svc, err := tickets.NewTicketService(testConfig(), new(MockTicketDBLayer), new(MockOrders), nil, nil, logger.NewNop(), nil)
	require.NoError(t, err)

	assert.Equal(t, qr.LevelH, svc.QR.Level)
	assert.Equal(t, 256, svc.QR.Size)
	require.NotNil(t, svc.QR.Margin)
	assert.Equal(t, 2, *svc.QR.Margin)
	assert.Equal(t, "help@example.com", svc.SupportEmail)
	assert.NotNil(t, svc.Renderer)
	assert.Nil(t, svc.Mailer)
}

func TestNewTicketServiceFailsClosed(t *testing.T) {
	cfg := testConfig()
	cfg.Tickets.SigningSecret = ""
	_, err := tickets.NewTicketService(cfg, nil, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, signing.ErrMissingSigningSecret)

	cfg = testConfig()
	cfg.Tickets.QRLevel = "Z"
	_, err = tickets.NewTicketService(cfg, nil, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, qr.ErrInvalidLevel)
}

func TestNewTicketServiceUnknownThemeFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Tickets.Theme = "neon"
	svc, err := tickets.NewTicketService(cfg, nil, nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, svc.Theme.Name)
}

func TestHandleOrderPaidDropsPermanentFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := paidOrder()
	unpaid.PaymentStatus = "unpaid"
	f.orders.On("FindOrderByID", ctx, "ORD-1").Return(unpaid, nil)
	f.orders.On("FindOrderByID", ctx, "ORD-404").Return(nil, nil)

	assert.NoError(t, f.svc.HandleOrderPaid(ctx, kafka.OrderPaidEvent{OrderID: "ORD-1"}))
	assert.NoError(t, f.svc.HandleOrderPaid(ctx, kafka.OrderPaidEvent{OrderID: "ORD-404"}))
	f.db.AssertNotCalled(t, "CreateTickets", mock.Anything, mock.Anything)
}

func TestHandleOrderPaidRedeliversTransientFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orders.On("FindOrderByID", ctx, "ORD-1").Return(nil, errors.New("connection reset"))

	err := f.svc.HandleOrderPaid(ctx, kafka.OrderPaidEvent{OrderID: "ORD-1"})
	assert.Error(t, err)
}
