package signing

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/models"
)

var fixedNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestSigner(t *testing.T, opts ...Option) *Signer {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	s, err := NewSigner("s3cret", opts...)
	require.NoError(t, err)
	return s
}

func scenarioFields(s *Signer) SignableFields {
	return s.NewSignableFields("ORD-1", "Jane Doe", "Test Fest", "2024-07-15T18:00:00Z", "VIP")
}

func TestNewSignerFailsClosed(t *testing.T) {
	_, err := NewSigner("")
	assert.ErrorIs(t, err, ErrMissingSigningSecret)

	_, err = NewSigner("   ")
	assert.ErrorIs(t, err, ErrMissingSigningSecret)
}

func TestSignScenario(t *testing.T) {
	s := newTestSigner(t)
	f := scenarioFields(s)

	sig, err := s.Sign(f)
	require.NoError(t, err)
	assert.Len(t, sig, 64)
	_, err = hex.DecodeString(sig)
	assert.NoError(t, err)
	assert.Equal(t, strings.ToLower(sig), sig)

	again, err := s.Sign(f)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signing is deterministic")

	f.TicketType = "Standard"
	other, err := s.Sign(f)
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)
}

func TestSignEverySignableFieldMatters(t *testing.T) {
	s := newTestSigner(t)
	base := scenarioFields(s)
	baseSig, err := s.Sign(base)
	require.NoError(t, err)

	mutations := map[string]func(*SignableFields){
		"orderId":      func(f *SignableFields) { f.OrderID = "ORD-2" },
		"attendeeName": func(f *SignableFields) { f.AttendeeName = "Jane Doe " },
		"eventName":    func(f *SignableFields) { f.EventName = "Test Fest 2" },
		"eventDate":    func(f *SignableFields) { f.EventDate = "2024-07-16T18:00:00Z" },
		"ticketType":   func(f *SignableFields) { f.TicketType = "vip" },
		"timestamp":    func(f *SignableFields) { f.Timestamp = "2024-07-01T12:00:00.001Z" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f := base
			mutate(&f)
			sig, err := s.Sign(f)
			require.NoError(t, err)
			assert.NotEqual(t, baseSig, sig)
		})
	}
}

func TestCanonicalKeyOrder(t *testing.T) {
	s := newTestSigner(t)
	b, err := Canonical(scenarioFields(s))
	require.NoError(t, err)
	assert.Equal(t,
		`{"attendeeName":"Jane Doe","eventDate":"2024-07-15T18:00:00Z","eventName":"Test Fest","orderId":"ORD-1","ticketType":"VIP","timestamp":"2024-07-01T12:00:00.000Z"}`,
		string(b))
}

func TestCanonicalDoesNotEscapeHTML(t *testing.T) {
	b, err := Canonical(SignableFields{EventName: "Rock & Roll <Live>"})
	require.NoError(t, err)
	assert.Contains(t, string(b), "Rock & Roll <Live>")
}

func TestSignRejectsMissingFields(t *testing.T) {
	s := newTestSigner(t)
	f := scenarioFields(s)
	f.AttendeeName = ""
	_, err := s.Sign(f)
	assert.ErrorIs(t, err, ErrInvalidFields)
}

func TestIssueAndVerifyPayload(t *testing.T) {
	s := newTestSigner(t)
	tok, payload, err := s.Issue(scenarioFields(s))
	require.NoError(t, err)
	assert.Contains(t, payload, `"signature":"`+tok.Signature+`"`)

	got, err := s.VerifyPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := newTestSigner(t)
	tok, _, err := s.Issue(scenarioFields(s))
	require.NoError(t, err)

	tampered := tok
	tampered.TicketType = "Backstage"
	assert.ErrorIs(t, s.Verify(tampered), ErrInvalidSignature)

	tampered = tok
	tampered.Signature = "zz"
	assert.ErrorIs(t, s.Verify(tampered), ErrInvalidSignature)

	other, err := NewSigner("another-secret", WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(tok), ErrInvalidSignature)
}

func TestVerifyMaxAge(t *testing.T) {
	issuer := newTestSigner(t)
	tok, _, err := issuer.Issue(scenarioFields(issuer))
	require.NoError(t, err)

	later := fixedNow.Add(48 * time.Hour)
	verifier, err := NewSigner("s3cret", WithClock(func() time.Time { return later }), WithMaxAge(24*time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(tok), ErrTicketExpired)

	lenient, err := NewSigner("s3cret", WithClock(func() time.Time { return later }))
	require.NoError(t, err)
	assert.NoError(t, lenient.Verify(tok))
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"", "not json", `{"orderId":"x"}`, `{"orderId":"x","signature":"ab","extra":1}`} {
		_, err := ParseToken(payload)
		assert.True(t, errors.Is(err, ErrMalformedToken), payload)
	}
}

func TestSignConcurrent(t *testing.T) {
	s := newTestSigner(t)
	f := scenarioFields(s)
	want, err := s.Sign(f)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Sign(f)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestSignIgnoresPresentationFields(t *testing.T) {
	s := newTestSigner(t)
	ts := fixedNow.Format(TimestampLayout)
	plain := models.TicketPayload{
		OrderID:      "ORD-1",
		AttendeeName: "Jane Doe",
		EventName:    "Test Fest",
		EventDate:    "2024-07-15T18:00:00Z",
		TicketType:   "VIP",
	}
	dressed := plain
	dressed.PriceText = "$120.00"
	dressed.Venue = &models.Venue{Name: "Main Hall", City: "Austin"}
	dressed.DoorTime = "18:00"
	dressed.Genre = "Indie"

	a, err := s.Sign(FieldsFor(plain, ts))
	require.NoError(t, err)
	b, err := s.Sign(FieldsFor(dressed, ts))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
