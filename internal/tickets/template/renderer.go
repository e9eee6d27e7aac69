package template

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/qr"
	"ms-tickets/internal/tickets/theme"
)

var ErrRenderFailed = errors.New("ticket rendering failed")

const (
	regularFamily = "ticket"
	boldFamily    = "ticket-bold"

	headerCaption = "LIVE EVENT TICKET"
	qrCaption     = "Scan for entry"
	holderLabel   = "TICKET HOLDER"
	orderLabel    = "Order ID"
)

var footerLines = [2]string{
	"Present this ticket at the entrance. Valid for one admission.",
	"Non-transferable. Contact support with your order ID for help.",
}

var white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Input is one ticket to draw. QRImage, when present, is used as-is;
// otherwise QRPayload is encoded.
type Input struct {
	Ticket    models.TicketPayload
	QRPayload string
	QRImage   []byte
	IssuedAt  time.Time
}

type Document struct {
	PDF     []byte
	QRImage []byte
	Layout  Layout
}

// Renderer is safe for concurrent use. Each call owns its gopdf document;
// only the font bytes are shared.
type Renderer struct {
	fonts *Fonts
	log   *logger.Logger
}

func NewRenderer(fonts *Fonts, log *logger.Logger) *Renderer {
	if fonts == nil {
		fonts = DefaultFonts()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Renderer{fonts: fonts, log: log}
}

func (r *Renderer) Render(in Input, th theme.Config, qrOpts qr.Options) (*Document, error) {
	pdf, fallback, err := r.newDocument(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	c := &canvas{pdf: pdf, theme: th}

	layout := Layout{FontFallback: fallback}
	margin := th.Spacing.Margin

	// 1. background, header band, accent stripe
	c.fillRect(Rect{0, 0, PageWidth, PageHeight}, th.Colors.Background)
	c.fillRect(Rect{0, 0, PageWidth, headerHeight}, th.Colors.Primary)
	c.fillRect(Rect{0, headerHeight, PageWidth, accentHeight}, th.Colors.Accent)

	// 2. header text
	c.text(boldFamily, th.Fonts.Caption, th.Colors.Accent, margin, captionY, headerCaption)
	layout.TitleLines = c.wrap(boldFamily, th.Fonts.Title, in.Ticket.EventName, PageWidth-2*margin, maxTitleLines)
	for i, line := range layout.TitleLines {
		c.text(boldFamily, th.Fonts.Title, th.Colors.Background, margin, titleY+float64(i)*th.Fonts.Title*1.15, line)
	}

	// 3. body
	y := bodyTop
	for _, line := range bodyLines(in.Ticket) {
		value := c.truncate(regularFamily, th.Fonts.Body, line.value, PageWidth-2*margin-bodyLabelWidth)
		c.text(boldFamily, th.Fonts.Body, th.Colors.TextLight, margin, y, line.label)
		c.text(regularFamily, th.Fonts.Body, th.Colors.Text, margin+bodyLabelWidth, y, value)
		layout.BodyLines = append(layout.BodyLines, line.label+" "+value)
		y += bodyLineStep
	}
	layout.BodyBottom = y

	// 4. pills
	layout.Pills = c.pills(pillLabels(in.Ticket), margin, layout.BodyBottom+pillTopGap)

	// 5. QR card
	card := Rect{PageWidth - margin - qrCardWidth, qrCardTop, qrCardWidth, qrCardHeight}
	layout.QR = Rect{card.X + qrCardInset, card.Y + qrCardInset, qrImageSize, qrImageSize}
	c.fillRect(card, white)
	c.strokeRect(card, th.Colors.TextLight, 0.75, "")

	qrPNG, qrImg, qrErr := resolveQR(in, qrOpts)
	if qrErr == nil {
		qrErr = c.pdf.ImageFrom(qrImg, layout.QR.X, layout.QR.Y, &gopdf.Rect{W: qrImageSize, H: qrImageSize})
	}
	if qrErr != nil {
		r.log.Warn("RENDER", fmt.Sprintf("QR unavailable for order %s, drawing placeholder: %v", in.Ticket.OrderID, qrErr))
		layout.QRPlaceholder = true
		qrPNG = nil
		c.strokeRect(layout.QR, th.Colors.TextLight, 1, "dashed")
		c.centered(boldFamily, th.Fonts.Subtitle, th.Colors.TextLight, layout.QR, "QR CODE")
	}
	c.centered(regularFamily, th.Fonts.Caption, th.Colors.TextLight,
		Rect{card.X, layout.QR.Bottom() + 4, card.W, card.Bottom() - layout.QR.Bottom() - 4}, qrCaption)

	// 6. attendee block, left of the QR card
	colWidth := card.X - attendeeGutter - margin
	c.dashedLine(margin, attendeeTop, margin+colWidth, attendeeTop, th.Colors.TextLight)
	ay := attendeeTop + 10
	c.text(boldFamily, th.Fonts.Caption, th.Colors.TextLight, margin, ay, holderLabel)
	ay += th.Fonts.Caption + 6
	layout.AttendeeLines = c.wrap(boldFamily, th.Fonts.Subtitle, in.Ticket.AttendeeName, colWidth, maxAttendeeLines)
	for _, line := range layout.AttendeeLines {
		c.text(boldFamily, th.Fonts.Subtitle, th.Colors.Text, margin, ay, line)
		ay += th.Fonts.Subtitle * 1.2
	}
	ay += 8
	c.text(boldFamily, th.Fonts.Caption, th.Colors.TextLight, margin, ay, orderLabel)
	ay += th.Fonts.Caption + 4
	for _, line := range c.wrap(regularFamily, th.Fonts.Body, in.Ticket.OrderID, colWidth, 2) {
		c.text(regularFamily, th.Fonts.Body, th.Colors.Text, margin, ay, line)
		ay += th.Fonts.Body * 1.2
	}

	// 7. footer, anchored to the canvas
	lineH := th.Fonts.Caption + 4
	layout.FooterY = PageHeight - margin - th.Fonts.Caption - lineH
	for i, line := range footerLines {
		c.text(regularFamily, th.Fonts.Caption, th.Colors.TextLight, margin,
			layout.FooterY+float64(i)*lineH, c.truncate(regularFamily, th.Fonts.Caption, line, PageWidth-2*margin))
	}

	// 8. decoration, margins only
	c.perforation(margin, perforationY, PageWidth-margin, th.Colors.TextLight)
	c.corners(th.Colors.Accent)

	if c.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, c.err)
	}

	var buf bytes.Buffer
	if err := c.pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: write pdf: %v", ErrRenderFailed, err)
	}
	out := buf.Bytes()
	layout.Pages = CountPages(out)
	if layout.Pages != 1 {
		return nil, fmt.Errorf("%w: produced %d pages", ErrRenderFailed, layout.Pages)
	}

	return &Document{PDF: out, QRImage: qrPNG, Layout: layout}, nil
}

// newDocument starts a one-page document with both font families
// registered. A font the parser rejects restarts it on the built-in fonts.
func (r *Renderer) newDocument(in Input) (*gopdf.GoPdf, bool, error) {
	fonts := r.fonts
	pdf, err := startDocument(in, fonts)
	if err != nil && !fonts.Fallback {
		r.log.Warn("RENDER", fmt.Sprintf("Configured font rejected, using built-in font: %v", err))
		fonts = DefaultFonts()
		pdf, err = startDocument(in, fonts)
	}
	if err != nil {
		return nil, false, err
	}
	return pdf, fonts.Fallback, nil
}

func startDocument(in Input, fonts *Fonts) (*gopdf.GoPdf, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: gopdf.Rect{W: PageWidth, H: PageHeight}, Unit: gopdf.UnitPT})
	pdf.SetInfo(gopdf.PdfInfo{
		Title:        in.Ticket.EventName + " ticket",
		Subject:      in.Ticket.OrderID,
		Creator:      "ms-tickets",
		Producer:     "ms-tickets",
		CreationDate: in.IssuedAt,
	})
	pdf.AddPage()
	if err := registerFonts(pdf, fonts); err != nil {
		return nil, err
	}
	return pdf, nil
}

func registerFonts(pdf *gopdf.GoPdf, f *Fonts) error {
	if err := pdf.AddTTFFontData(regularFamily, f.Regular); err != nil {
		return fmt.Errorf("add regular font: %w", err)
	}
	if err := pdf.AddTTFFontData(boldFamily, f.Bold); err != nil {
		return fmt.Errorf("add bold font: %w", err)
	}
	return nil
}

func resolveQR(in Input, opts qr.Options) ([]byte, image.Image, error) {
	raw := in.QRImage
	if len(raw) == 0 {
		if in.QRPayload == "" {
			return nil, nil, errors.New("no qr payload")
		}
		var err error
		if raw, err = qr.Encode(in.QRPayload, opts); err != nil {
			return nil, nil, err
		}
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode qr png: %w", err)
	}
	return raw, img, nil
}

type bodyLine struct {
	label string
	value string
}

// bodyLines is the sequential label:value stack. At most maxBodyLines.
func bodyLines(p models.TicketPayload) []bodyLine {
	var lines []bodyLine
	date, clock := formatEventDate(p.EventDate)

	if p.DoorTime != "" || p.ShowTime != "" {
		lines = append(lines, bodyLine{"Date", date})
		if p.DoorTime != "" {
			lines = append(lines, bodyLine{"Doors", p.DoorTime})
		}
		if p.ShowTime != "" {
			lines = append(lines, bodyLine{"Show", p.ShowTime})
		}
	} else {
		value := date
		if clock != "" {
			value += " at " + clock
		}
		lines = append(lines, bodyLine{"Date & Time", value})
	}

	if v := p.Venue; v != nil && (v.Name != "" || v.Address != "" || v.City != "") {
		if v.Name != "" {
			lines = append(lines, bodyLine{"Venue", v.Name})
		}
		if v.Address != "" {
			lines = append(lines, bodyLine{"Address", v.Address})
		}
		if v.City != "" {
			lines = append(lines, bodyLine{"City", v.City})
		}
	} else if p.Location != "" {
		lines = append(lines, bodyLine{"Location", p.Location})
	}

	if p.Genre != "" {
		lines = append(lines, bodyLine{"Genre", p.Genre})
	}
	if p.AgeRestriction != "" {
		lines = append(lines, bodyLine{"Age", p.AgeRestriction})
	}

	if len(lines) > maxBodyLines {
		lines = lines[:maxBodyLines]
	}
	return lines
}

func formatEventDate(s string) (string, string) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			return t.Format("Mon, Jan 2, 2006"), ""
		}
		return t.Format("Mon, Jan 2, 2006"), t.Format("3:04 PM")
	}
	return s, ""
}

func pillLabels(p models.TicketPayload) []string {
	labels := []string{strings.ToUpper(p.TicketType)}
	if p.PriceText != "" {
		labels = append(labels, p.PriceText)
	}
	return labels
}

// canvas wraps one gopdf document and keeps the first drawing error.
type canvas struct {
	pdf   *gopdf.GoPdf
	theme theme.Config
	err   error
}

func (c *canvas) setFont(family string, size float64) {
	if c.err != nil {
		return
	}
	if err := c.pdf.SetFont(family, "", size); err != nil {
		c.err = fmt.Errorf("set font %s: %w", family, err)
	}
}

func (c *canvas) measurer(family string, size float64) measureFunc {
	return func(s string) (float64, error) {
		if err := c.pdf.SetFont(family, "", size); err != nil {
			return 0, err
		}
		return c.pdf.MeasureTextWidth(s)
	}
}

func (c *canvas) measure(family string, size float64, s string) float64 {
	if c.err != nil {
		return 0
	}
	w, err := c.measurer(family, size)(s)
	if err != nil {
		c.err = fmt.Errorf("measure text: %w", err)
	}
	return w
}

func (c *canvas) wrap(family string, size float64, text string, width float64, maxLines int) []string {
	if c.err != nil {
		return nil
	}
	lines, err := wrapText(c.measurer(family, size), text, width, maxLines)
	if err != nil {
		c.err = fmt.Errorf("wrap text: %w", err)
	}
	return lines
}

func (c *canvas) truncate(family string, size float64, text string, width float64) string {
	if c.err != nil {
		return text
	}
	out, err := truncate(c.measurer(family, size), text, width, false)
	if err != nil {
		c.err = fmt.Errorf("truncate text: %w", err)
	}
	return out
}

func (c *canvas) text(family string, size float64, col color.RGBA, x, y float64, s string) {
	if c.err != nil || s == "" {
		return
	}
	c.setFont(family, size)
	c.pdf.SetTextColor(col.R, col.G, col.B)
	c.pdf.SetXY(x, y)
	if err := c.pdf.Cell(nil, s); err != nil {
		c.err = fmt.Errorf("draw text: %w", err)
	}
}

func (c *canvas) centered(family string, size float64, col color.RGBA, r Rect, s string) {
	if c.err != nil {
		return
	}
	c.setFont(family, size)
	c.pdf.SetTextColor(col.R, col.G, col.B)
	c.pdf.SetXY(r.X, r.Y)
	if err := c.pdf.CellWithOption(&gopdf.Rect{W: r.W, H: r.H}, s, gopdf.CellOption{Align: gopdf.Center | gopdf.Middle}); err != nil {
		c.err = fmt.Errorf("draw centered text: %w", err)
	}
}

func (c *canvas) fillRect(r Rect, col color.RGBA) {
	if c.err != nil {
		return
	}
	c.pdf.SetFillColor(col.R, col.G, col.B)
	c.pdf.RectFromUpperLeftWithStyle(r.X, r.Y, r.W, r.H, "F")
}

func (c *canvas) strokeRect(r Rect, col color.RGBA, width float64, lineType string) {
	if c.err != nil {
		return
	}
	c.pdf.SetStrokeColor(col.R, col.G, col.B)
	c.pdf.SetLineWidth(width)
	c.pdf.SetLineType(lineType)
	c.pdf.RectFromUpperLeftWithStyle(r.X, r.Y, r.W, r.H, "D")
	c.pdf.SetLineType("")
}

func (c *canvas) dashedLine(x1, y1, x2, y2 float64, col color.RGBA) {
	if c.err != nil {
		return
	}
	c.pdf.SetStrokeColor(col.R, col.G, col.B)
	c.pdf.SetLineWidth(0.75)
	c.pdf.SetLineType("dashed")
	c.pdf.Line(x1, y1, x2, y2)
	c.pdf.SetLineType("")
}

// pills lays out badges left to right from (x, y), wrapping to a second row
// when the next badge would cross the right margin.
func (c *canvas) pills(labels []string, x, y float64) []Pill {
	th := c.theme
	margin := th.Spacing.Margin
	height := th.Fonts.Body + 12
	maxInterior := PageWidth - 2*margin - 2*pillPadding
	fills := []color.RGBA{th.Colors.Accent, th.Colors.Secondary}

	var out []Pill
	cx, cy := x, y
	for i, label := range labels {
		label = c.truncate(boldFamily, th.Fonts.Body, label, maxInterior)
		textWidth := c.measure(boldFamily, th.Fonts.Body, label)
		width := math.Max(textWidth+2*pillPadding, height)

		if cx > x && cx+width > PageWidth-margin {
			cx = x
			cy += height + pillRowGap
		}

		p := Pill{Label: label, TextWidth: textWidth, Width: width, Height: height, X: cx, Y: cy, Padding: pillPadding}
		c.capsule(Rect{p.X, p.Y, p.Width, p.Height}, fills[i%len(fills)])
		c.centered(boldFamily, th.Fonts.Body, white, Rect{p.X, p.Y, p.Width, p.Height}, label)
		out = append(out, p)
		cx += width + pillGap
	}
	return out
}

// capsule fills a rectangle with fully rounded ends.
func (c *canvas) capsule(r Rect, col color.RGBA) {
	if c.err != nil {
		return
	}
	radius := r.H / 2
	cy := r.Y + radius
	left, right := r.X+radius, r.Right()-radius

	const steps = 12
	points := make([]gopdf.Point, 0, 2*(steps+1))
	for i := 0; i <= steps; i++ {
		a := math.Pi/2 + math.Pi*float64(i)/steps
		points = append(points, gopdf.Point{X: left + radius*math.Cos(a), Y: cy - radius*math.Sin(a)})
	}
	for i := 0; i <= steps; i++ {
		a := -math.Pi/2 + math.Pi*float64(i)/steps
		points = append(points, gopdf.Point{X: right + radius*math.Cos(a), Y: cy - radius*math.Sin(a)})
	}
	c.pdf.SetFillColor(col.R, col.G, col.B)
	c.pdf.SetStrokeColor(col.R, col.G, col.B)
	c.pdf.Polygon(points, "F")
}

func (c *canvas) dot(x, y, radius float64) {
	const steps = 8
	points := make([]gopdf.Point, 0, steps)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / steps
		points = append(points, gopdf.Point{X: x + radius*math.Cos(a), Y: y + radius*math.Sin(a)})
	}
	c.pdf.Polygon(points, "F")
}

func (c *canvas) perforation(x1, y, x2 float64, col color.RGBA) {
	if c.err != nil {
		return
	}
	c.pdf.SetFillColor(col.R, col.G, col.B)
	for x := x1; x <= x2; x += perforationGap {
		c.dot(x, y, 1.2)
	}
}

func (c *canvas) corners(col color.RGBA) {
	if c.err != nil {
		return
	}
	c.pdf.SetStrokeColor(col.R, col.G, col.B)
	c.pdf.SetLineWidth(1.5)
	c.pdf.SetLineType("")
	in, far := cornerInset, cornerInset+cornerLength
	for _, corner := range [][2]float64{{0, 0}, {PageWidth, 0}, {0, PageHeight}, {PageWidth, PageHeight}} {
		sx, sy := 1.0, 1.0
		if corner[0] > 0 {
			sx = -1
		}
		if corner[1] > 0 {
			sy = -1
		}
		ox, oy := corner[0]+sx*in, corner[1]+sy*in
		c.pdf.Line(ox, oy, corner[0]+sx*far, oy)
		c.pdf.Line(ox, oy, ox, corner[1]+sy*far)
	}
}
