package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ms-tickets/internal/models"
)

// TimestampLayout is the issue-time format embedded in every signed ticket.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrMissingSigningSecret = errors.New("ticket signing secret not configured")
	ErrInvalidFields        = errors.New("invalid signable fields")
	ErrInvalidSignature     = errors.New("invalid ticket signature")
	ErrTicketExpired        = errors.New("ticket signature expired")
	ErrMalformedToken       = errors.New("malformed ticket token")
)

// SignableFields is the exact subset of a ticket covered by the HMAC.
// Presentation fields (venue, price, door time) are deliberately absent.
type SignableFields struct {
	OrderID      string `json:"orderId" validate:"required"`
	AttendeeName string `json:"attendeeName" validate:"required"`
	EventName    string `json:"eventName" validate:"required"`
	EventDate    string `json:"eventDate" validate:"required"`
	TicketType   string `json:"ticketType" validate:"required"`
	Timestamp    string `json:"timestamp" validate:"required"`
}

// Token is what the QR code carries.
type Token struct {
	SignableFields
	Signature string `json:"signature"`
}

type Option func(*Signer)

// WithClock overrides the issue-time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithMaxAge rejects tokens older than d at verification. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Signer) { s.maxAge = d }
}

// Signer is safe for concurrent use; it holds no mutable state after construction.
type Signer struct {
	secret   []byte
	now      func() time.Time
	maxAge   time.Duration
	validate *validator.Validate
}

func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSigningSecret
	}
	s := &Signer{
		secret:   []byte(secret),
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSignableFields stamps the fields with the current UTC instant.
func (s *Signer) NewSignableFields(orderID, attendeeName, eventName, eventDate, ticketType string) SignableFields {
	return SignableFields{
		OrderID:      orderID,
		AttendeeName: attendeeName,
		EventName:    eventName,
		EventDate:    eventDate,
		TicketType:   ticketType,
		Timestamp:    s.now().UTC().Format(TimestampLayout),
	}
}

// FieldsFor extracts the signable subset of a ticket payload.
func FieldsFor(p models.TicketPayload, timestamp string) SignableFields {
	return SignableFields{
		OrderID:      p.OrderID,
		AttendeeName: p.AttendeeName,
		EventName:    p.EventName,
		EventDate:    p.EventDate,
		TicketType:   p.TicketType,
		Timestamp:    timestamp,
	}
}

// Canonical returns the bytes that are signed: a JSON object with keys in
// ascending order, no whitespace, no HTML escaping.
func Canonical(f SignableFields) ([]byte, error) {
	// encoding/json sorts map keys, which fixes the order independently of
	// struct field declaration.
	m := map[string]string{
		"orderId":      f.OrderID,
		"attendeeName": f.AttendeeName,
		"eventName":    f.EventName,
		"eventDate":    f.EventDate,
		"ticketType":   f.TicketType,
		"timestamp":    f.Timestamp,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical fields.
func (s *Signer) Sign(f SignableFields) (string, error) {
	if err := s.validate.Struct(f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	canonical, err := Canonical(f)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return s.mac(canonical), nil
}

func (s *Signer) mac(b []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Issue signs the fields and returns the token plus its QR payload text.
func (s *Signer) Issue(f SignableFields) (Token, string, error) {
	sig, err := s.Sign(f)
	if err != nil {
		return Token{}, "", err
	}
	tok := Token{SignableFields: f, Signature: sig}
	payload, err := EncodeToken(tok)
	if err != nil {
		return Token{}, "", err
	}
	return tok, payload, nil
}

// EncodeToken renders a token as canonical JSON, signature included.
func EncodeToken(t Token) (string, error) {
	m := map[string]string{
		"orderId":      t.OrderID,
		"attendeeName": t.AttendeeName,
		"eventName":    t.EventName,
		"eventDate":    t.EventDate,
		"ticketType":   t.TicketType,
		"timestamp":    t.Timestamp,
		"signature":    t.Signature,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ParseToken decodes a scanned QR payload.
func ParseToken(payload string) (Token, error) {
	var t Token
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if t.Signature == "" {
		return Token{}, fmt.Errorf("%w: missing signature", ErrMalformedToken)
	}
	return t, nil
}

// Verify recomputes the signature and compares in constant time.
func (s *Signer) Verify(t Token) error {
	want, err := s.Sign(t.SignableFields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	got, err := hex.DecodeString(t.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return ErrInvalidSignature
	}

	if s.maxAge > 0 {
		issued, err := time.Parse(TimestampLayout, t.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
		}
		if s.now().Sub(issued) > s.maxAge {
			return ErrTicketExpired
		}
	}
	return nil
}

// VerifyPayload parses and verifies a raw QR payload.
func (s *Signer) VerifyPayload(payload string) (Token, error) {
	t, err := ParseToken(payload)
	if err != nil {
		return Token{}, err
	}
	if err := s.Verify(t); err != nil {
		return Token{}, err
	}
	return t, nil
}
