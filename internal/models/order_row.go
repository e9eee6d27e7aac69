package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidOrderRow = errors.New("invalid order row")

// Column aliases, current spelling first. Legacy rows carry snake_case names.
var orderColumns = struct {
	customerEmail, customerName, createdAt, updatedAt []string
	paymentStatus, sessionID, eventID, ticketType     []string
	confirmationSent                                  []string
}{
	customerEmail:    []string{"customerEmail", "customer_email"},
	customerName:     []string{"customerName", "customer_name"},
	createdAt:        []string{"createdAt", "created_at"},
	updatedAt:        []string{"updatedAt", "updated_at"},
	paymentStatus:    []string{"paymentStatus", "payment_status"},
	sessionID:        []string{"stripeSessionId", "stripe_session_id"},
	eventID:          []string{"eventId", "event_id"},
	ticketType:       []string{"ticketType", "ticket_type"},
	confirmationSent: []string{"confirmation_sent", "confirmationSent"},
}

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// NormalizeOrderRow maps a raw storage row onto an Order. Either column
// spelling is accepted; when both are populated the current one wins.
func NormalizeOrderRow(row map[string]interface{}) (Order, error) {
	if row == nil {
		return Order{}, fmt.Errorf("%w: empty row", ErrInvalidOrderRow)
	}

	id := rowString(row, "id")
	if id == "" {
		return Order{}, fmt.Errorf("%w: missing id", ErrInvalidOrderRow)
	}

	c := orderColumns
	o := Order{
		ID:               id,
		CustomerEmail:    rowString(row, c.customerEmail...),
		CustomerName:     rowString(row, c.customerName...),
		Amount:           rowInt(row, "amount"),
		Currency:         rowString(row, "currency"),
		Quantity:         int(rowInt(row, "quantity")),
		CreatedAt:        rowTime(row, c.createdAt...),
		UpdatedAt:        rowTime(row, c.updatedAt...),
		Status:           OrderStatus(rowString(row, "status")),
		PaymentStatus:    PaymentStatus(rowString(row, c.paymentStatus...)),
		ConfirmationSent: rowBool(row, c.confirmationSent...),
		StripeSessionID:  rowString(row, c.sessionID...),
		EventID:          rowString(row, c.eventID...),
		TicketType:       rowString(row, c.ticketType...),
	}
	return o, nil
}

func lookup(row map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		if b, isBytes := v.([]byte); isBytes && len(b) == 0 {
			continue
		}
		return v, true
	}
	return nil, false
}

func rowString(row map[string]interface{}, keys ...string) string {
	v, ok := lookup(row, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func rowInt(row map[string]interface{}, keys ...string) int64 {
	v, ok := lookup(row, keys...)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		return n
	}
	return 0
}

func rowBool(row map[string]interface{}, keys ...string) bool {
	v, ok := lookup(row, keys...)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case string:
		return parseBoolText(t)
	case []byte:
		return parseBoolText(string(t))
	}
	return false
}

func parseBoolText(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "yes":
		return true
	}
	return false
}

func rowTime(row map[string]interface{}, keys ...string) time.Time {
	v, ok := lookup(row, keys...)
	if !ok {
		return time.Time{}
	}
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range rowTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}
