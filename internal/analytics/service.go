package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ms-tickets/internal/models"
	ticket_db "ms-tickets/internal/tickets/db"
)

type OrderLister interface {
	ListOrdersByEvent(ctx context.Context, eventID string) ([]models.Order, error)
}

type TicketCounter interface {
	CountTickets(ctx context.Context, orderIDs []string) (ticket_db.TicketCounts, error)
}

// Service handles analytics operations
type Service struct {
	Orders  OrderLister
	Tickets TicketCounter
}

// NewService creates a new analytics service
func NewService(orders OrderLister, tickets TicketCounter) *Service {
	return &Service{Orders: orders, Tickets: tickets}
}

// EventAnalytics represents aggregated sales and door data for an event.
// Revenue counts settled orders only and is in major currency units.
type EventAnalytics struct {
	EventID          string              `json:"event_id"`
	Currency         string              `json:"currency,omitempty"`
	TotalRevenue     decimal.Decimal     `json:"total_revenue"`
	PaidOrders       int                 `json:"paid_orders"`
	PendingOrders    int                 `json:"pending_orders"`
	FailedOrders     int                 `json:"failed_orders"`
	TotalTicketsSold int                 `json:"total_tickets_sold"`
	TicketsIssued    int                 `json:"tickets_issued"`
	TicketsCheckedIn int                 `json:"tickets_checked_in"`
	DailySales       []DailySalesMetrics `json:"daily_sales"`
	SalesByType      []TypeSalesMetrics  `json:"sales_by_ticket_type"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date        string          `json:"date"`
	Revenue     decimal.Decimal `json:"revenue"`
	TicketsSold int             `json:"tickets_sold"`
}

// TypeSalesMetrics contains sales metrics for one ticket type
type TypeSalesMetrics struct {
	TicketType  string          `json:"ticket_type"`
	TicketsSold int             `json:"tickets_sold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// GetEventAnalytics returns revenue and check-in analytics for a specific event
func (s *Service) GetEventAnalytics(ctx context.Context, eventID string) (*EventAnalytics, error) {
	orders, err := s.Orders.ListOrdersByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list orders for event %s: %w", eventID, err)
	}

	result := &EventAnalytics{
		EventID:      eventID,
		TotalRevenue: decimal.Zero,
		DailySales:   []DailySalesMetrics{},
		SalesByType:  []TypeSalesMetrics{},
	}

	daily := map[string]*DailySalesMetrics{}
	byType := map[string]*TypeSalesMetrics{}
	var paidIDs []string

	for _, o := range orders {
		switch {
		case o.IsPaid():
		case o.PaymentStatus == models.PaymentStatusFailed, o.Status == models.OrderStatusCancelled, o.Status == models.OrderStatusExpired:
			result.FailedOrders++
			continue
		default:
			result.PendingOrders++
			continue
		}

		result.PaidOrders++
		paidIDs = append(paidIDs, o.ID)
		if result.Currency == "" {
			result.Currency = strings.ToUpper(o.Currency)
		}

		revenue := decimal.New(o.Amount, -2)
		sold := o.TicketCount()
		result.TotalRevenue = result.TotalRevenue.Add(revenue)
		result.TotalTicketsSold += sold

		day := "unknown"
		if !o.CreatedAt.IsZero() {
			day = o.CreatedAt.UTC().Format("2006-01-02")
		}
		d, ok := daily[day]
		if !ok {
			d = &DailySalesMetrics{Date: day, Revenue: decimal.Zero}
			daily[day] = d
		}
		d.Revenue = d.Revenue.Add(revenue)
		d.TicketsSold += sold

		ticketType := o.TicketType
		if ticketType == "" {
			ticketType = "standard"
		}
		tm, ok := byType[ticketType]
		if !ok {
			tm = &TypeSalesMetrics{TicketType: ticketType, Revenue: decimal.Zero}
			byType[ticketType] = tm
		}
		tm.Revenue = tm.Revenue.Add(revenue)
		tm.TicketsSold += sold
	}

	if len(paidIDs) > 0 {
		counts, err := s.Tickets.CountTickets(ctx, paidIDs)
		if err != nil {
			return nil, err
		}
		result.TicketsIssued = counts.Issued
		result.TicketsCheckedIn = counts.CheckedIn
	}

	for _, d := range daily {
		result.DailySales = append(result.DailySales, *d)
	}
	sort.Slice(result.DailySales, func(i, j int) bool { return result.DailySales[i].Date < result.DailySales[j].Date })

	for _, tm := range byType {
		result.SalesByType = append(result.SalesByType, *tm)
	}
	sort.Slice(result.SalesByType, func(i, j int) bool {
		if result.SalesByType[i].TicketsSold != result.SalesByType[j].TicketsSold {
			return result.SalesByType[i].TicketsSold > result.SalesByType[j].TicketsSold
		}
		return result.SalesByType[i].TicketType < result.SalesByType[j].TicketType
	})

	return result, nil
}
