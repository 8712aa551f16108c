package core

// convert.go turns raw spreadsheet cells into optional pgtype values.
//
// Extracts arrive from several reporting tools and carry their artefacts:
//   - Excel formula prefixes (="value") and quote-wrapped cells
//   - integers rendered as floats ("2024.0") after a round trip through Excel
//   - UTF-8 byte order marks on the first header cell
//
// All conversions return Valid=false for blank or unparseable input. A
// missing value is never replaced by a sentinel.

import (
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgInt4 wraps an int as a valid pgtype.Int4.
func ToPgInt4(i int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

// ParsePgInt4 parses an integer cell. Whole-valued floats ("2024.0") are
// accepted; anything else, including out-of-range values, is null.
func ParsePgInt4(s string) pgtype.Int4 {
	s = CleanCell(s)
	if s == "" {
		return pgtype.Int4{}
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return pgtype.Int4{Int32: int32(i), Valid: true}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(f), Valid: true}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace and a leading UTF-8 BOM
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// HeaderKey normalizes a column name for alias matching. Matching is
// case-insensitive and treats spaces, hyphens and dots like underscores.
func HeaderKey(s string) string {
	s = strings.ToLower(CleanCell(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
