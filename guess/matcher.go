// Package guess compares guesses against the secret word.
package guess

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// combiningDiacritics is the Combining Diacritical Marks block U+0300–U+036F.
var combiningDiacritics = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
})

// Normalize lower-cases text, drops every whitespace rune and strips accents.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(combiningDiacritics))
	stripped, _, err := transform.String(t, text)
	if err != nil {
		// transform only fails on invalid state; fall back to the raw input
		stripped = text
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Match reports whether guess names the same word as secret.
func Match(secret, guess string) bool {
	return Normalize(secret) == Normalize(guess)
}
