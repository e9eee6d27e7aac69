package template

import "strings"

const ellipsis = "..."

type measureFunc func(string) (float64, error)

// wrapText greedily fills lines up to width. Words wider than a line are
// broken by rune. When more than maxLines are needed the last kept line is
// truncated with an ellipsis.
func wrapText(measure measureFunc, text string, width float64, maxLines int) ([]string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	var lines []string
	current := ""
	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		w, err := measure(candidate)
		if err != nil {
			return nil, err
		}
		if w <= width {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		// word alone may still be too wide
		pieces, err := breakWord(measure, word, width)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pieces[:len(pieces)-1]...)
		current = pieces[len(pieces)-1]
	}
	if current != "" {
		lines = append(lines, current)
	}

	if maxLines > 0 && len(lines) > maxLines {
		rest := strings.Join(lines[maxLines-1:], " ")
		last, err := truncate(measure, rest, width, true)
		if err != nil {
			return nil, err
		}
		lines = append(lines[:maxLines-1], last)
	}
	return lines, nil
}

func breakWord(measure measureFunc, word string, width float64) ([]string, error) {
	var pieces []string
	runes := []rune(word)
	start := 0
	for i := 1; i <= len(runes); i++ {
		w, err := measure(string(runes[start:i]))
		if err != nil {
			return nil, err
		}
		if w > width && i-1 > start {
			pieces = append(pieces, string(runes[start:i-1]))
			start = i - 1
		}
	}
	pieces = append(pieces, string(runes[start:]))
	return pieces, nil
}

// truncate shortens text until it fits width, appending an ellipsis when
// anything was cut. force appends the ellipsis even if text already fits.
func truncate(measure measureFunc, text string, width float64, force bool) (string, error) {
	w, err := measure(text)
	if err != nil {
		return "", err
	}
	if w <= width && !force {
		return text, nil
	}

	runes := []rune(strings.TrimSpace(text))
	for n := len(runes); n > 0; n-- {
		candidate := strings.TrimRight(string(runes[:n]), " ") + ellipsis
		w, err := measure(candidate)
		if err != nil {
			return "", err
		}
		if w <= width {
			return candidate, nil
		}
	}
	return ellipsis, nil
}
