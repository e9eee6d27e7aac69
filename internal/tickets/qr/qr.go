package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/skip2/go-qrcode"
)

var (
	ErrPayloadTooLarge = errors.New("qr payload too large")
	ErrInvalidLevel    = errors.New("invalid qr error-correction level")
	ErrEmptyPayload    = errors.New("qr payload is empty")
)

type Level string

const (
	LevelL Level = "L"
	LevelM Level = "M"
	LevelQ Level = "Q"
	LevelH Level = "H"
)

const (
	DefaultSize       = 300
	DefaultMargin     = 1
	DefaultMaxVersion = 40
)

// Options controls symbol construction and rasterization. Zero values take
// the defaults: level M, one module of margin, 300px, black on white. Margin
// is a pointer so an explicit zero quiet zone can be asked for.
type Options struct {
	Level      Level
	Margin     *int
	Size       int
	Foreground color.Color
	Background color.Color
	MaxVersion int
}

// Modules returns a Margin of n modules.
func Modules(n int) *int {
	return &n
}

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelL, LevelM, LevelQ, LevelH:
		return l, nil
	case "":
		return LevelM, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

func (o Options) withDefaults() Options {
	if o.Level == "" {
		o.Level = LevelM
	}
	if o.Margin == nil || *o.Margin < 0 {
		o.Margin = Modules(DefaultMargin)
	}
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Foreground == nil {
		o.Foreground = color.Black
	}
	if o.Background == nil {
		o.Background = color.White
	}
	if o.MaxVersion <= 0 || o.MaxVersion > DefaultMaxVersion {
		o.MaxVersion = DefaultMaxVersion
	}
	return o
}

func recoveryLevel(l Level) (qrcode.RecoveryLevel, error) {
	switch l {
	case LevelL:
		return qrcode.Low, nil
	case LevelM:
		return qrcode.Medium, nil
	case LevelQ:
		return qrcode.High, nil
	case LevelH:
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, l)
}

// Image builds the QR symbol for payload and rasterizes it. Payloads that do
// not fit the level at or below MaxVersion fail with ErrPayloadTooLarge.
func Image(payload string, opts Options) (image.Image, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	opts = opts.withDefaults()

	level, err := recoveryLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	code, err := qrcode.New(payload, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes at level %s: %v", ErrPayloadTooLarge, len(payload), opts.Level, err)
	}
	if code.VersionNumber > opts.MaxVersion {
		return nil, fmt.Errorf("%w: needs version %d, ceiling is %d", ErrPayloadTooLarge, code.VersionNumber, opts.MaxVersion)
	}
	code.DisableBorder = true

	return rasterize(code.Bitmap(), *opts.Margin, opts), nil
}

// Encode returns the QR symbol as PNG bytes.
func Encode(payload string, opts Options) ([]byte, error) {
	img, err := Image(payload, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// rasterize scales modules by a whole number of pixels and centers the
// symbol so every module keeps identical size.
func rasterize(bitmap [][]bool, margin int, opts Options) image.Image {
	modules := len(bitmap) + 2*margin
	size := opts.Size
	if size < modules {
		size = modules
	}
	px := size / modules
	offset := (size - px*modules) / 2

	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{opts.Background, opts.Foreground})
	// Index 0 is the background, so the zero-valued Pix is already filled.
	for y, row := range bitmap {
		for x, dark := range row {
			if !dark {
				continue
			}
			x0 := offset + (x+margin)*px
			y0 := offset + (y+margin)*px
			for dy := 0; dy < px; dy++ {
				for dx := 0; dx < px; dx++ {
					img.SetColorIndex(x0+dx, y0+dy, 1)
				}
			}
		}
	}
	return img
}
