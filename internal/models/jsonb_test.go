package models

import (
	"reflect"
	"testing"
)

func TestJSONBRoundTrip(t *testing.T) {
	original := JSONB{
		"source":  "sdk",
		"attempt": float64(2),
		"labels":  []any{"batch", "öffentlich"},
		"nested":  map[string]any{"note": "prix: 12,50 €"},
	}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var decoded JSONB
	if err := decoded.Scan(value); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch:\n got  %#v\n want %#v", decoded, original)
	}
}

func TestJSONBScanString(t *testing.T) {
	var j JSONB
	if err := j.Scan(`{"key":"valué"}`); err != nil {
		t.Fatalf("Scan(string) error = %v", err)
	}
	if j["key"] != "valué" {
		t.Errorf("key = %q, want %q", j["key"], "valué")
	}
}

func TestJSONBNil(t *testing.T) {
	var j JSONB
	value, err := j.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if value != nil {
		t.Errorf("nil map Value() = %v, want nil", value)
	}

	decoded := JSONB{"stale": true}
	if err := decoded.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if decoded != nil {
		t.Errorf("Scan(nil) left %v, want nil", decoded)
	}

	if err := decoded.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
