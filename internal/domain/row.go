package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one typed input record. Values are float64, bool or string.
type Row map[string]any

// Float returns the numeric value of a column, or 0 when missing or non-numeric.
func (r Row) Float(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return Finite(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		return ParseFloat(v)
	default:
		return 0
	}
}

// ParseFloat parses a numeric cell. Anything unparseable or non-finite,
// including "NaN" and "Inf", is 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return Finite(f)
}

// Finite maps NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Bool returns the boolean value of a column, or false when missing.
func (r Row) Bool(name string) bool {
	switch v := r[name].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return ParseBool(v)
	default:
		return false
	}
}

// String returns the text value of a column, or "" when missing.
func (r Row) String(name string) string {
	switch v := r[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return ""
	}
}

// Has reports whether the column is present.
func (r Row) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// Time parses a timestamp column. The second return is false when the value
// is missing or unparseable.
func (r Row) Time(name string) (time.Time, bool) {
	return ParseTime(r.String(name))
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// With returns a copy of the row with extra values set.
func (r Row) With(extra map[string]any) Row {
	out := r.Clone()
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ParseBool accepts the spellings found in exported spreadsheets.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "t":
		return true
	default:
		return false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTime parses the timestamp formats accepted in uploads. Values without
// a zone are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
