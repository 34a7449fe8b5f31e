package money

import (
	"encoding/json"
	"testing"
)

func TestArithmetic(t *testing.T) {
	a := New(4200, USD)
	b := New(800, USD)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if sum.AmountMinor != 5000 {
		t.Errorf("sum = %d, want 5000", sum.AmountMinor)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub returned error: %v", err)
	}
	if diff.AmountMinor != 3400 {
		t.Errorf("diff = %d, want 3400", diff.AmountMinor)
	}

	if _, err := a.Add(New(100, EUR)); err == nil {
		t.Error("expected currency mismatch error")
	}

	if !a.Equal(New(4200, USD)) || a.Equal(New(4200, EUR)) {
		t.Error("Equal must compare amount and currency")
	}
	if !Zero(USD).IsZero() || a.IsZero() {
		t.Error("IsZero mismatch")
	}
	if !a.IsPositive() || New(-1, USD).IsPositive() {
		t.Error("IsPositive mismatch")
	}
}

func TestToMajor(t *testing.T) {
	if got := New(4250, USD).ToMajor(); got != 42.50 {
		t.Errorf("USD 4250 minor = %v major, want 42.50", got)
	}
	// JPY has no minor units
	if got := New(4250, JPY).ToMajor(); got != 4250 {
		t.Errorf("JPY 4250 minor = %v major, want 4250", got)
	}
}

func TestJSONCodec(t *testing.T) {
	data, err := json.Marshal(New(4200, GBP))
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `{"amount_minor":4200,"currency":"GBP"}` {
		t.Errorf("marshaled = %s", data)
	}

	var m Money
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if !m.Equal(New(4200, GBP)) {
		t.Errorf("round-tripped = %+v, want 4200 GBP", m)
	}
}

func TestSQLCodec(t *testing.T) {
	val, err := New(4200, USD).Value()
	if err != nil {
		t.Fatalf("Value returned error: %v", err)
	}

	var m Money
	if err := m.Scan(val); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if !m.Equal(New(4200, USD)) {
		t.Errorf("scanned = %+v, want 4200 USD", m)
	}

	// Bare integer columns carry the minor amount only.
	var minor Money
	if err := minor.Scan(int64(999)); err != nil {
		t.Fatalf("Scan int64 returned error: %v", err)
	}
	if minor.AmountMinor != 999 {
		t.Errorf("scanned minor = %d, want 999", minor.AmountMinor)
	}

	if err := m.Scan(3.14); err == nil {
		t.Error("expected error scanning unsupported type")
	}
}
