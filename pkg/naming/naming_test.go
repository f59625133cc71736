package naming

import (
	"reflect"
	"testing"
)

type sample struct {
	Simple     string
	URLValue   string
	CustomBin  string `aero:"custom"`
	Skip       string `aero:"-"`
	Optional   string `aero:"opt,omitempty"`
	unexported string
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Name":      "name",
		"CreatedAt": "created_at",
		"ID":        "id",
		"UserID":    "user_id",
		"URLValue":  "url_value",
		"HTTPSPort": "https_port",
		"APIKey":    "api_key",
		"Value1":    "value1",
		"Field2A":   "field2a",
		"X":         "x",
		"lowercase": "lowercase",
	}

	for input, expected := range tests {
		if got := ToSnakeCase(input); got != expected {
			t.Errorf("ToSnakeCase(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestToCamelCase(t *testing.T) {
	tests := map[string]string{
		"Name":      "name",
		"CreatedAt": "createdAt",
		"URLValue":  "urlValue",
		"ID":        "id",
		"HTTPCode":  "httpCode",
	}

	for input, expected := range tests {
		if got := ToCamelCase(input); got != expected {
			t.Errorf("ToCamelCase(%q) = %q, want %q", input, got, expected)
		}
	}
}

func TestResolveBinName(t *testing.T) {
	typ := reflect.TypeOf(sample{})

	name, skip := ResolveBinName(typ.Field(0), SnakeCase)
	if skip || name != "simple" {
		t.Fatalf("expected simple, got %q skip=%v", name, skip)
	}

	name, skip = ResolveBinName(typ.Field(1), CamelCase)
	if skip || name != "urlValue" {
		t.Fatalf("expected urlValue, got %q", name)
	}

	name, skip = ResolveBinName(typ.Field(2), SnakeCase)
	if skip || name != "custom" {
		t.Fatalf("expected custom, got %q", name)
	}

	if _, skip = ResolveBinName(typ.Field(3), SnakeCase); !skip {
		t.Fatalf("expected skip for field with aero:\"-\"")
	}

	name, skip = ResolveBinName(typ.Field(4), SnakeCase)
	if skip || name != "opt" || !OmitEmpty(typ.Field(4)) {
		t.Fatalf("expected opt with omitempty, got %q", name)
	}

	if _, skip = ResolveBinName(typ.Field(5), SnakeCase); !skip {
		t.Fatalf("expected unexported field to be skipped")
	}
}
