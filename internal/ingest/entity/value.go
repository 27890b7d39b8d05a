package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used on the wire and in
// failure artifacts.
const DateLayout = "2006-01-02"

// Kind discriminates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a single cell of a record: null, string, number or calendar date.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	date time.Time
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// String returns a string value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Number returns a numeric value.
func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

// Date returns the calendar date of t. The time of day and location are dropped.
func Date(t time.Time) Value {
	return Value{kind: KindDate, date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Str returns the string payload; "" for other kinds.
func (v Value) Str() string {
	return v.str
}

// Num returns the numeric payload; zero for other kinds.
func (v Value) Num() decimal.Decimal {
	return v.num
}

// Time returns the date payload at midnight UTC; the zero time for other kinds.
func (v Value) Time() time.Time {
	return v.date
}

// Text renders the value as a CSV cell: null is empty, numbers use plain
// decimal notation and dates use DateLayout.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindDate:
		return v.date.Format(DateLayout)
	default:
		return ""
	}
}

// Native returns the value as a Go type suitable for database drivers: nil,
// string, decimal.Decimal or time.Time.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindDate:
		return v.date
	default:
		return nil
	}
}

// MarshalJSON encodes null as null, numbers as JSON numbers and dates as
// "YYYY-MM-DD" strings. NaN never appears since decimals cannot hold it.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindDate:
		return json.Marshal(v.date.Format(DateLayout))
	default:
		return []byte("null"), nil
	}
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num.Equal(o.num)
	case KindDate:
		return v.date.Equal(o.date)
	default:
		return true
	}
}
