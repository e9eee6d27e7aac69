package models

// PaymentStatus mirrors the payment provider's checkout-session payment state.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Settled reports whether a checkout session needs no further payment.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusNoPaymentRequired
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)
