package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValueJSON(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	cases := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null(), `null`},
		{"zero value", Value{}, `null`},
		{"string", String(`Visa "gold"`), `"Visa \"gold\""`},
		{"number", Number(decimal.RequireFromString("1234.50")), `1234.5`},
		{"negative", Number(decimal.RequireFromString("-0.75")), `-0.75`},
		{"date", Date(time.Date(2025, 3, 9, 23, 59, 0, 0, loc)), `"2025-03-09"`},
	}

	for _, tc := range cases {
		got, err := json.Marshal(tc.in)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestValueText(t *testing.T) {
	if got := Null().Text(); got != "" {
		t.Fatalf("null text = %q", got)
	}
	if got := Number(decimal.RequireFromString("12.10")).Text(); got != "12.1" {
		t.Fatalf("number text = %q", got)
	}
	if got := Date(time.Date(2024, 12, 31, 10, 0, 0, 0, time.UTC)).Text(); got != "2024-12-31" {
		t.Fatalf("date text = %q", got)
	}
}

func TestValueNativeAndEqual(t *testing.T) {
	if Null().Native() != nil {
		t.Fatalf("expected nil native for null")
	}
	if _, ok := Number(decimal.NewFromInt(3)).Native().(decimal.Decimal); !ok {
		t.Fatalf("expected decimal native for number")
	}
	if !Number(decimal.RequireFromString("1.0")).Equal(Number(decimal.NewFromInt(1))) {
		t.Fatalf("expected numerically equal values to be equal")
	}
	if String("1").Equal(Number(decimal.NewFromInt(1))) {
		t.Fatalf("expected different kinds to differ")
	}
	if !Null().Equal(Value{}) {
		t.Fatalf("expected nulls to be equal")
	}
}
