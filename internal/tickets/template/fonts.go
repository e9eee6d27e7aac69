package template

import (
	"fmt"
	"os"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"ms-tickets/internal/logger"
)

// Fonts holds TTF bytes shared read-only by every render.
type Fonts struct {
	Regular  []byte
	Bold     []byte
	Fallback bool
}

// DefaultFonts are the embedded Go fonts.
func DefaultFonts() *Fonts {
	return &Fonts{Regular: goregular.TTF, Bold: gobold.TTF, Fallback: true}
}

// LoadFonts reads the configured TTF files. Any failure falls back to the
// embedded fonts and is logged, never returned.
func LoadFonts(regularPath, boldPath string, log *logger.Logger) *Fonts {
	regular, err := os.ReadFile(regularPath)
	if err != nil {
		log.Warn("RENDER", fmt.Sprintf("Font %s unavailable, using built-in font: %v", regularPath, err))
		return DefaultFonts()
	}
	bold, err := os.ReadFile(boldPath)
	if err != nil {
		log.Warn("RENDER", fmt.Sprintf("Bold font %s unavailable, using regular weight: %v", boldPath, err))
		bold = regular
	}
	log.Info("RENDER", fmt.Sprintf("Loaded ticket fonts from %s", regularPath))
	return &Fonts{Regular: regular, Bold: bold}
}
