package source

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/records-resolver/internal/records"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02 15:04:05",
	"20060102",
}

// Fields maps canonical field names to the column names a source uses.
type Fields map[string]string

// Mapper reads canonical fields out of rows, collecting the first format
// error per row.
type Mapper struct {
	Source string
	Fields Fields
}

// RowReader extracts values for a single row.
type RowReader struct {
	m   Mapper
	row Row
	key string
	err *records.SourceFormatError
}

// Reader starts reading row. key identifies the row in error messages.
func (m Mapper) Reader(row Row) *RowReader {
	return &RowReader{m: m, row: row}
}

// Err returns the first format error recorded while reading.
func (r *RowReader) Err() *records.SourceFormatError {
	return r.err
}

func (r *RowReader) column(field string) string {
	if col, ok := r.m.Fields[field]; ok && col != "" {
		return col
	}
	return field
}

func (r *RowReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &records.SourceFormatError{Source: r.m.Source, Key: r.key, Field: field, Reason: reason}
	}
}

func (r *RowReader) raw(field string) (any, bool) {
	v, ok := r.row[r.column(field)]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

// Key reads the natural key. A missing key is always a format error.
func (r *RowReader) Key(field string) string {
	s := r.String(field)
	if s == "" {
		r.fail(field, "missing natural key")
	}
	r.key = s
	return s
}

// String reads an optional string field.
func (r *RowReader) String(field string) string {
	v, ok := r.raw(field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Required reads a string field that must be present.
func (r *RowReader) Required(field string) string {
	s := r.String(field)
	if s == "" {
		r.fail(field, "required field missing")
	}
	return s
}

// Strings reads a list field given as an array or a ";"-separated string.
func (r *RowReader) Strings(field string) []string {
	v, ok := r.raw(field)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(t, ";") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	default:
		r.fail(field, fmt.Sprintf("expected list, got %T", v))
	}
	return out
}

// Money reads a whole-dollar amount from a number or a "$1,234.56" string.
func (r *RowReader) Money(field string) int64 {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(math.Round(t))
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(t)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			r.fail(field, fmt.Sprintf("invalid amount %q", t))
			return 0
		}
		return int64(math.Round(f))
	default:
		r.fail(field, fmt.Sprintf("expected amount, got %T", v))
		return 0
	}
}

// Date reads an optional date.
func (r *RowReader) Date(field string) *time.Time {
	s := r.String(field)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	r.fail(field, fmt.Sprintf("unparseable date %q", s))
	return nil
}

// RequiredDate reads a date that must be present.
func (r *RowReader) RequiredDate(field string) time.Time {
	t := r.Date(field)
	if t == nil {
		r.fail(field, "required date missing")
		return time.Time{}
	}
	return *t
}

// Address reads a postal address from prefixed columns, e.g. situs_street.
func (r *RowReader) Address(prefix string) records.Address {
	return records.Address{
		Street: r.String(prefix + "_street"),
		Unit:   r.String(prefix + "_unit"),
		City:   r.String(prefix + "_city"),
		State:  r.String(prefix + "_state"),
		Zip:    r.String(prefix + "_zip"),
	}
}

// InRange reports whether t falls inside the query's date bounds.
func (q Query) InRange(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if q.From != nil && t.Before(*q.From) {
		return false
	}
	if q.To != nil && t.After(*q.To) {
		return false
	}
	return true
}

// Capped reports whether n records already satisfy the query's cap.
func (q Query) Capped(n int) bool {
	return q.MaxRecords > 0 && n >= q.MaxRecords
}
