package template

import "regexp"

// Canvas geometry in points. A ticket is always one page of this size.
const (
	PageWidth  = 420.0
	PageHeight = 595.0

	headerHeight   = 100.0
	accentHeight   = 4.0
	captionY       = 20.0
	titleY         = 36.0
	maxTitleLines  = 2
	bodyTop        = 122.0
	bodyLineStep   = 18.0
	bodyLabelWidth = 74.0
	maxBodyLines   = 8

	pillGap     = 8.0
	pillRowGap  = 6.0
	pillPadding = 10.0
	pillTopGap  = 10.0

	qrCardWidth  = 132.0
	qrCardHeight = 152.0
	qrCardTop    = 340.0
	qrImageSize  = 112.0
	qrCardInset  = (qrCardWidth - qrImageSize) / 2

	attendeeTop      = 340.0
	attendeeGutter   = 12.0
	maxAttendeeLines = 2

	perforationY   = 515.0
	perforationGap = 8.0
	cornerInset    = 6.0
	cornerLength   = 12.0
)

type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Bottom() float64 { return r.Y + r.H }
func (r Rect) Right() float64  { return r.X + r.W }

// Pill is one measured ticket-class badge.
type Pill struct {
	Label     string
	TextWidth float64
	Width     float64
	Height    float64
	X, Y      float64
	Padding   float64
}

// Interior is the width available to the label.
func (p Pill) Interior() float64 { return p.Width - 2*p.Padding }

// Layout records where things landed. It is a pure function of the render
// inputs and is what tests assert against.
type Layout struct {
	Pages         int
	TitleLines    []string
	BodyLines     []string
	BodyBottom    float64
	Pills         []Pill
	QR            Rect
	QRPlaceholder bool
	AttendeeLines []string
	FooterY       float64
	FontFallback  bool
}

var pageObject = regexp.MustCompile(`/Type\s*/Page\b`)

// CountPages counts page objects in a PDF produced by this package.
func CountPages(pdf []byte) int {
	return len(pageObject.FindAll(pdf, -1))
}
