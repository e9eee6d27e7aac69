package theme

import (
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strings"
)

var ErrUnknownTheme = errors.New("unknown ticket theme")

const Default = "modern"

type Colors struct {
	Primary    color.RGBA
	Secondary  color.RGBA
	Accent     color.RGBA
	Text       color.RGBA
	TextLight  color.RGBA
	Background color.RGBA
}

// Fonts are point sizes.
type Fonts struct {
	Title    float64
	Subtitle float64
	Body     float64
	Caption  float64
}

type Spacing struct {
	Margin  float64
	Padding float64
}

// Config is an immutable presentation bundle. It never affects signing.
type Config struct {
	Name    string
	Colors  Colors
	Fonts   Fonts
	Spacing Spacing
}

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

var themes = map[string]Config{
	"modern": {
		Name: "modern",
		Colors: Colors{
			Primary:    hex(0x1e293b),
			Secondary:  hex(0x334155),
			Accent:     hex(0x6366f1),
			Text:       hex(0x0f172a),
			TextLight:  hex(0x64748b),
			Background: hex(0xffffff),
		},
		Fonts:   Fonts{Title: 22, Subtitle: 14, Body: 11, Caption: 8},
		Spacing: Spacing{Margin: 24, Padding: 12},
	},
	"classic": {
		Name: "classic",
		Colors: Colors{
			Primary:    hex(0x7f1d1d),
			Secondary:  hex(0x92400e),
			Accent:     hex(0xd4a017),
			Text:       hex(0x1c1917),
			TextLight:  hex(0x78716c),
			Background: hex(0xfffbeb),
		},
		Fonts:   Fonts{Title: 20, Subtitle: 13, Body: 11, Caption: 8},
		Spacing: Spacing{Margin: 26, Padding: 12},
	},
	"vibrant": {
		Name: "vibrant",
		Colors: Colors{
			Primary:    hex(0xdb2777),
			Secondary:  hex(0x7c3aed),
			Accent:     hex(0xfacc15),
			Text:       hex(0x111827),
			TextLight:  hex(0x6b7280),
			Background: hex(0xffffff),
		},
		Fonts:   Fonts{Title: 24, Subtitle: 14, Body: 11, Caption: 8},
		Spacing: Spacing{Margin: 22, Padding: 12},
	},
	"minimal": {
		Name: "minimal",
		Colors: Colors{
			Primary:    hex(0x111111),
			Secondary:  hex(0x444444),
			Accent:     hex(0x999999),
			Text:       hex(0x111111),
			TextLight:  hex(0x777777),
			Background: hex(0xffffff),
		},
		Fonts:   Fonts{Title: 20, Subtitle: 13, Body: 10, Caption: 8},
		Spacing: Spacing{Margin: 28, Padding: 10},
	},
}

// Get returns a copy of the named theme.
func Get(name string) (Config, error) {
	c, ok := themes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownTheme, name)
	}
	return c, nil
}

// MustGet is for names known at compile time.
func MustGet(name string) Config {
	c, err := Get(name)
	if err != nil {
		panic(err)
	}
	return c
}

// GetOrDefault falls back to the default theme for unknown names.
func GetOrDefault(name string) Config {
	if c, err := Get(name); err == nil {
		return c
	}
	return themes[Default]
}

func Names() []string {
	names := make([]string, 0, len(themes))
	for n := range themes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
