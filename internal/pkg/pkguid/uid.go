package pkguid

import "strconv"

// StringID generates unique string identifiers.
type StringID interface {
	Generate() string
}

// NumberID generates unique, time-ordered int64 identifiers.
type NumberID interface {
	Generate() int64
}

// FormatNumber renders a NumberID value the way run IDs appear in URLs,
// logs and artifact metadata.
func FormatNumber(id int64) string {
	return strconv.FormatInt(id, 10)
}
