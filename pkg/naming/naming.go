// Package naming maps Go struct fields to bin names.
package naming

import (
	"reflect"
	"strings"
	"unicode"
)

// Convention selects how untagged field names become bin names.
type Convention int

const (
	// SnakeCase turns CreatedAt into created_at.
	SnakeCase Convention = iota
	// CamelCase turns CreatedAt into createdAt.
	CamelCase
)

// TagName is the struct tag consulted for bin names.
const TagName = "aero"

// ResolveBinName determines the bin name for a field.
// It returns the bin name and a bool indicating whether the field should be skipped.
func ResolveBinName(field reflect.StructField, convention Convention) (string, bool) {
	if !field.IsExported() {
		return "", true
	}

	tag := field.Tag.Get(TagName)
	if tag == "-" {
		return "", true
	}

	if name, _, _ := strings.Cut(tag, ","); strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name), false
	}

	return ConvertName(field.Name, convention), false
}

// OmitEmpty reports whether the field tag carries the omitempty option.
func OmitEmpty(field reflect.StructField) bool {
	_, opts, _ := strings.Cut(field.Tag.Get(TagName), ",")
	for _, opt := range strings.Split(opts, ",") {
		if strings.TrimSpace(opt) == "omitempty" {
			return true
		}
	}
	return false
}

// ConvertName applies the naming convention to a Go identifier.
func ConvertName(name string, convention Convention) string {
	if convention == CamelCase {
		return ToCamelCase(name)
	}
	return ToSnakeCase(name)
}

// ToCamelCase lowercases the leading word (acronyms included): URLValue -> urlValue.
func ToCamelCase(name string) string {
	if name == "" {
		return ""
	}

	runes := []rune(name)
	if len(runes) == 1 {
		return strings.ToLower(name)
	}

	boundary := 1
	for boundary < len(runes) {
		if !unicode.IsUpper(runes[boundary]) {
			break
		}

		if boundary+1 < len(runes) && !unicode.IsUpper(runes[boundary+1]) {
			break
		}

		boundary++
	}

	prefix := strings.ToLower(string(runes[:boundary]))
	return prefix + string(runes[boundary:])
}

// ToSnakeCase splits on case boundaries, keeping acronyms together: UserID -> user_id.
func ToSnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
