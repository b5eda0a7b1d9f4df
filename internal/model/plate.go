package model

import "regexp"

// platePattern is the canonical plate grammar: digit, three letters,
// three digits, dash separated.
var platePattern = regexp.MustCompile(`^\d-[A-Z]{3}-\d{3}$`)

// Plate is a canonical plate identifier such as "1-ABC-234".
type Plate string

// IsCanonical reports whether s matches the canonical plate grammar.
func IsCanonical(s string) bool {
	return platePattern.MatchString(s)
}

// ParsePlate returns s as a Plate when it is already canonical. Raw OCR
// text goes through the normalizer instead.
func ParsePlate(s string) (Plate, bool) {
	if !IsCanonical(s) {
		return "", false
	}
	return Plate(s), true
}

func (p Plate) String() string { return string(p) }
