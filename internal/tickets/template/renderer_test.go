package template

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/qr"
	"ms-tickets/internal/tickets/theme"
)

const testQRPayload = `{"attendeeName":"Jane Doe","eventDate":"2024-07-15T18:00:00Z","eventName":"Test Fest","orderId":"ORD-1","signature":"9f2c","ticketType":"VIP","timestamp":"2024-07-01T12:00:00.000Z"}`

func baseTicket() models.TicketPayload {
	return models.TicketPayload{
		OrderID:      "ORD-1",
		AttendeeName: "Jane Doe",
		EventName:    "Test Fest",
		EventDate:    "2024-07-15T18:00:00Z",
		TicketType:   "VIP",
		PriceText:    "$120.00",
	}
}

func render(t *testing.T, p models.TicketPayload) *Document {
	t.Helper()
	r := NewRenderer(DefaultFonts(), logger.NewNop())
	doc, err := r.Render(Input{Ticket: p, QRPayload: testQRPayload, IssuedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)},
		theme.MustGet("modern"), qr.Options{})
	require.NoError(t, err)
	return doc
}

func assertLayoutInvariants(t *testing.T, l Layout) {
	t.Helper()
	assert.Equal(t, 1, l.Pages)
	assert.LessOrEqual(t, len(l.BodyLines), maxBodyLines)
	assert.LessOrEqual(t, len(l.TitleLines), maxTitleLines)
	assert.LessOrEqual(t, len(l.AttendeeLines), maxAttendeeLines)
	assert.Less(t, l.BodyBottom, l.QR.Y)
	for _, p := range l.Pills {
		assert.Less(t, p.Y+p.Height, qrCardTop, "pill overlaps the QR row")
		assert.LessOrEqual(t, p.X+p.Width, PageWidth)
	}
	assert.Less(t, l.QR.Bottom(), perforationY)
	assert.Less(t, perforationY, l.FooterY)
	assert.Less(t, l.FooterY, PageHeight)
}

func TestRenderSinglePageForEveryOptionalFieldCombination(t *testing.T) {
	type setter func(*models.TicketPayload)
	optional := []setter{
		func(p *models.TicketPayload) {
			p.Venue = &models.Venue{Name: "The Fillmore", Address: "1805 Geary Blvd", City: "San Francisco"}
		},
		func(p *models.TicketPayload) { p.DoorTime = "6:00 PM" },
		func(p *models.TicketPayload) { p.ShowTime = "7:30 PM" },
		func(p *models.TicketPayload) { p.Genre = "Indie Rock" },
		func(p *models.TicketPayload) { p.AgeRestriction = "21+" },
	}

	for mask := 0; mask < 1<<len(optional); mask++ {
		t.Run(fmt.Sprintf("mask=%05b", mask), func(t *testing.T) {
			p := baseTicket()
			p.Location = "Downtown"
			for i, set := range optional {
				if mask&(1<<i) != 0 {
					set(&p)
				}
			}
			doc := render(t, p)
			assert.Equal(t, 1, CountPages(doc.PDF))
			assertLayoutInvariants(t, doc.Layout)
			assert.False(t, doc.Layout.QRPlaceholder)
		})
	}
}

func TestRenderBodyLineVariants(t *testing.T) {
	p := baseTicket()
	doc := render(t, p)
	require.Len(t, doc.Layout.BodyLines, 1)
	assert.True(t, strings.HasPrefix(doc.Layout.BodyLines[0], "Date & Time Mon, Jul 15, 2024 at 6:00 PM"))

	p.DoorTime = "6:00 PM"
	p.Location = "Pier 70"
	doc = render(t, p)
	assert.Equal(t, []string{"Date Mon, Jul 15, 2024", "Doors 6:00 PM", "Location Pier 70"}, doc.Layout.BodyLines)
	assert.Equal(t, bodyTop+3*bodyLineStep, doc.Layout.BodyBottom)
}

func TestRenderLongNamesStayOnCanvas(t *testing.T) {
	p := baseTicket()
	p.EventName = strings.Repeat("The Extraordinarily Long Festival Name ", 8)
	p.AttendeeName = "Maria-Alejandra " + strings.Repeat("Wolfeschlegelsteinhausenbergerdorff", 4)
	p.Venue = &models.Venue{Name: strings.Repeat("Grand Hall ", 20), City: "Springfield"}

	doc := render(t, p)
	assertLayoutInvariants(t, doc.Layout)
	assert.Len(t, doc.Layout.TitleLines, maxTitleLines)
	assert.True(t, strings.HasSuffix(doc.Layout.TitleLines[maxTitleLines-1], ellipsis))
	assert.Len(t, doc.Layout.AttendeeLines, maxAttendeeLines)
}

func TestRenderPillWidthFollowsText(t *testing.T) {
	short := baseTicket()
	short.TicketType = "VIP"
	long := baseTicket()
	long.TicketType = strings.Repeat("ab", 15)
	require.Len(t, long.TicketType, 30)

	s := render(t, short).Layout.Pills
	l := render(t, long).Layout.Pills
	require.Len(t, s, 2)
	require.Len(t, l, 2)

	for _, p := range append(append([]Pill{}, s...), l...) {
		assert.Greater(t, p.TextWidth, 0.0)
		assert.LessOrEqual(t, p.TextWidth, p.Interior(), "label %q clipped", p.Label)
		assert.Equal(t, pillPadding, p.Padding)
	}
	assert.Greater(t, l[0].Width, s[0].Width)
	assert.InDelta(t, s[0].TextWidth+2*pillPadding, s[0].Width, 0.001)
	assert.InDelta(t, l[0].TextWidth+2*pillPadding, l[0].Width, 0.001)
	assert.Equal(t, strings.ToUpper(long.TicketType), l[0].Label)

	// price pill follows with a fixed gap
	assert.InDelta(t, s[0].X+s[0].Width+pillGap, s[1].X, 0.001)
}

func TestRenderPillWrapsAndTruncates(t *testing.T) {
	p := baseTicket()
	p.TicketType = strings.Repeat("SUPERFAN ", 12)
	p.PriceText = "$1,999.00"

	pills := render(t, p).Layout.Pills
	require.Len(t, pills, 2)
	assert.True(t, strings.HasSuffix(pills[0].Label, ellipsis))
	assert.LessOrEqual(t, pills[0].X+pills[0].Width, PageWidth-theme.MustGet("modern").Spacing.Margin+0.001)
	assert.Greater(t, pills[1].Y, pills[0].Y, "second pill wraps to a new row")
}

func TestRenderWithoutPrice(t *testing.T) {
	p := baseTicket()
	p.PriceText = ""
	assert.Len(t, render(t, p).Layout.Pills, 1)
}

func TestRenderQRPlaceholderOnBadImage(t *testing.T) {
	r := NewRenderer(nil, nil)
	doc, err := r.Render(Input{Ticket: baseTicket(), QRImage: []byte("not a png")}, theme.MustGet("classic"), qr.Options{})
	require.NoError(t, err)
	assert.True(t, doc.Layout.QRPlaceholder)
	assert.Nil(t, doc.QRImage)
	assert.Equal(t, 1, doc.Layout.Pages)
}

func TestRenderQRPlaceholderWhenPayloadTooLarge(t *testing.T) {
	r := NewRenderer(nil, nil)
	doc, err := r.Render(Input{Ticket: baseTicket(), QRPayload: strings.Repeat("x", 4000)}, theme.MustGet("modern"), qr.Options{Level: qr.LevelH})
	require.NoError(t, err)
	assert.True(t, doc.Layout.QRPlaceholder)
}

func TestRenderEmbedsQRImage(t *testing.T) {
	doc := render(t, baseTicket())
	require.NotEmpty(t, doc.QRImage)
	img, err := png.Decode(bytes.NewReader(doc.QRImage))
	require.NoError(t, err)
	assert.Equal(t, qr.DefaultSize, img.Bounds().Dx())
	assert.Equal(t, Rect{X: PageWidth - 24 - qrCardWidth + qrCardInset, Y: qrCardTop + qrCardInset, W: qrImageSize, H: qrImageSize}, doc.Layout.QR)
}

func TestRenderReusesStoredQRImage(t *testing.T) {
	stored, err := qr.Encode(testQRPayload, qr.Options{})
	require.NoError(t, err)

	r := NewRenderer(nil, nil)
	doc, err := r.Render(Input{Ticket: baseTicket(), QRImage: stored}, theme.MustGet("modern"), qr.Options{})
	require.NoError(t, err)
	assert.False(t, doc.Layout.QRPlaceholder)
	assert.Equal(t, stored, doc.QRImage)
}

func TestRenderFallsBackOnBrokenFont(t *testing.T) {
	r := NewRenderer(&Fonts{Regular: []byte("garbage"), Bold: []byte("garbage")}, logger.NewNop())
	doc, err := r.Render(Input{Ticket: baseTicket(), QRPayload: testQRPayload}, theme.MustGet("minimal"), qr.Options{})
	require.NoError(t, err)
	assert.True(t, doc.Layout.FontFallback)
	assert.Equal(t, 1, doc.Layout.Pages)
}

func TestLoadFontsMissingFilesFallsBack(t *testing.T) {
	f := LoadFonts("/nonexistent/regular.ttf", "/nonexistent/bold.ttf", logger.NewNop())
	assert.True(t, f.Fallback)
	assert.NotEmpty(t, f.Regular)
	assert.NotEmpty(t, f.Bold)
}

func TestRenderEveryTheme(t *testing.T) {
	r := NewRenderer(nil, nil)
	for _, name := range theme.Names() {
		t.Run(name, func(t *testing.T) {
			p := baseTicket()
			p.Venue = &models.Venue{Name: "Main Hall", Address: "1 Road", City: "Austin"}
			p.DoorTime, p.ShowTime, p.Genre, p.AgeRestriction = "6 PM", "7 PM", "Jazz", "All ages"
			doc, err := r.Render(Input{Ticket: p, QRPayload: testQRPayload}, theme.MustGet(name), qr.Options{})
			require.NoError(t, err)
			assertLayoutInvariants(t, doc.Layout)
			assert.Len(t, doc.Layout.BodyLines, maxBodyLines)
		})
	}
}

func TestRenderLayoutIsDeterministic(t *testing.T) {
	a := render(t, baseTicket())
	b := render(t, baseTicket())
	assert.Equal(t, a.Layout, b.Layout)
	assert.Equal(t, a.QRImage, b.QRImage)
}

func TestRenderConcurrent(t *testing.T) {
	r := NewRenderer(DefaultFonts(), logger.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := baseTicket()
			p.OrderID = fmt.Sprintf("ORD-%d", i)
			doc, err := r.Render(Input{Ticket: p, QRPayload: testQRPayload}, theme.MustGet("vibrant"), qr.Options{})
			if assert.NoError(t, err) {
				assert.Equal(t, 1, doc.Layout.Pages)
			}
		}(i)
	}
	wg.Wait()
}

func TestCountPages(t *testing.T) {
	assert.Equal(t, 0, CountPages([]byte("<< /Type /Pages /Count 0 >>")))
	assert.Equal(t, 2, CountPages([]byte("<< /Type /Page >> << /Type/Page >> << /Type /Pages >>")))
}
