// Package normalize turns raw OCR text into a canonical plate identifier.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/crimson-sun/platewatch/internal/model"
)

// confusions maps letters OCR tends to read in place of a digit. Only
// letter-to-digit corrections exist; digits are never turned into letters.
var confusions = map[byte]byte{'B': '8'}

// digitSlots are the positions of a plate-shaped string that must hold a
// digit: "D-LLL-DDD".
var digitSlots = [...]int{0, 6, 7, 8}

const plateLen = len("1-ABC-234")

// Normalize cleans raw OCR output, corrects confusable letters in digit
// positions and validates the result against the canonical plate grammar.
// It returns false for anything that does not validate.
func Normalize(raw string) (model.Plate, bool) {
	return model.ParsePlate(correct(Clean(raw)))
}

// correct replaces confusable letters sitting where the grammar expects a
// digit. Strings that are not plate-shaped are returned unchanged.
func correct(s string) string {
	if len(s) != plateLen || s[1] != '-' || s[5] != '-' {
		return s
	}
	b := []byte(s)
	for _, i := range digitSlots {
		if d, ok := confusions[b[i]]; ok {
			b[i] = d
		}
	}
	return string(b)
}

// Clean applies unicode folding and strips everything outside
// [A-Za-z0-9-]. The result is neither corrected nor validated.
func Clean(raw string) string {
	folded := fold(raw)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if isPlateRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fold maps full-width and compatibility forms to ASCII and drops
// combining marks, so "１-ÁBC" folds to "1-ABC".
func fold(s string) string {
	t := transform.Chain(width.Fold, norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isPlateRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		return true
	}
	return false
}
