package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// ValidationError describes a rejected name or value.
type ValidationError struct {
	Type   string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s - %s", e.Type, e.Field, e.Detail)
}

// Unwrap lets callers match every validation failure with errors.ErrInvalidArgument.
func (e *ValidationError) Unwrap() error {
	return errors.ErrInvalidArgument
}

// Server-side limits
const (
	MaxBinNameLength       = 15
	MaxNamespaceLength     = 31
	MaxSetNameLength       = 63
	MaxVarNameLength       = 64
	MaxRegexLength         = 4096
	MaxNestedDepth         = 32
	MaxValueStringLength   = 1024 * 1024
	MaxFilterExpressionLen = 128 * 1024
)

// ValidateBinName validates a bin name against the server's naming rules
func ValidateBinName(name string) error {
	if name == "" {
		return &ValidationError{
			Type:   "InvalidBinName",
			Field:  name,
			Detail: "bin name cannot be empty",
		}
	}

	if len(name) > MaxBinNameLength {
		return &ValidationError{
			Type:   "InvalidBinName",
			Field:  name,
			Detail: fmt.Sprintf("bin name exceeds maximum length of %d bytes", MaxBinNameLength),
		}
	}

	return checkPrintable("InvalidBinName", name)
}

// ValidateNamespace validates a namespace name
func ValidateNamespace(ns string) error {
	if ns == "" {
		return &ValidationError{
			Type:   "InvalidNamespace",
			Field:  ns,
			Detail: "namespace cannot be empty",
		}
	}

	if len(ns) > MaxNamespaceLength {
		return &ValidationError{
			Type:   "InvalidNamespace",
			Field:  ns,
			Detail: fmt.Sprintf("namespace exceeds maximum length of %d bytes", MaxNamespaceLength),
		}
	}

	return checkPrintable("InvalidNamespace", ns)
}

// ValidateSetName validates a set name. The empty set is allowed.
func ValidateSetName(set string) error {
	if set == "" {
		return nil
	}

	if len(set) > MaxSetNameLength {
		return &ValidationError{
			Type:   "InvalidSetName",
			Field:  set,
			Detail: fmt.Sprintf("set name exceeds maximum length of %d bytes", MaxSetNameLength),
		}
	}

	return checkPrintable("InvalidSetName", set)
}

// ValidateVarName validates a let-binding variable name
func ValidateVarName(name string) error {
	if name == "" {
		return &ValidationError{
			Type:   "InvalidVariable",
			Field:  name,
			Detail: "variable name cannot be empty",
		}
	}

	if len(name) > MaxVarNameLength {
		return &ValidationError{
			Type:   "InvalidVariable",
			Field:  name,
			Detail: fmt.Sprintf("variable name exceeds maximum length of %d bytes", MaxVarNameLength),
		}
	}

	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return &ValidationError{
			Type:   "InvalidVariable",
			Field:  name,
			Detail: "variable name must start with a letter or underscore and contain only letters, digits and underscores",
		}
	}

	return nil
}

// ValidateRegex validates a POSIX pattern passed to the server
func ValidateRegex(pattern string) error {
	if pattern == "" {
		return &ValidationError{
			Type:   "InvalidRegex",
			Field:  "regex",
			Detail: "pattern cannot be empty",
		}
	}

	if len(pattern) > MaxRegexLength {
		return &ValidationError{
			Type:   "InvalidRegex",
			Field:  "regex",
			Detail: fmt.Sprintf("pattern exceeds maximum length of %d bytes", MaxRegexLength),
		}
	}

	if !utf8.ValidString(pattern) {
		return &ValidationError{
			Type:   "InvalidRegex",
			Field:  "regex",
			Detail: "pattern is not valid UTF-8",
		}
	}

	return nil
}

// ValidateValue checks size and nesting limits of a bin or literal value
func ValidateValue(v types.Value) error {
	return validateValue(v, 0)
}

func validateValue(v types.Value, depth int) error {
	if depth > MaxNestedDepth {
		return &ValidationError{
			Type:   "InvalidValue",
			Field:  "value",
			Detail: fmt.Sprintf("nesting depth exceeds maximum of %d", MaxNestedDepth),
		}
	}

	switch v.Type() {
	case types.StringType, types.GeoJSONType:
		if len(v.AsString()) > MaxValueStringLength {
			return &ValidationError{
				Type:   "InvalidValue",
				Field:  "string_value",
				Detail: fmt.Sprintf("string value exceeds maximum length of %d bytes", MaxValueStringLength),
			}
		}
	case types.BlobType:
		if len(v.AsBytes()) > MaxValueStringLength {
			return &ValidationError{
				Type:   "InvalidValue",
				Field:  "blob_value",
				Detail: fmt.Sprintf("blob value exceeds maximum length of %d bytes", MaxValueStringLength),
			}
		}
	case types.ListType:
		for i, item := range v.AsList() {
			if err := validateValue(item, depth+1); err != nil {
				return &ValidationError{
					Type:   "InvalidValue",
					Field:  "list_value",
					Detail: fmt.Sprintf("invalid item at index %d: %s", i, err.Error()),
				}
			}
		}
	case types.MapType:
		for _, e := range v.AsMap() {
			if err := validateValue(e.Key, depth+1); err != nil {
				return err
			}
			if err := validateValue(e.Value, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateFilterSize rejects encoded filter expressions the server would refuse
func ValidateFilterSize(n int) error {
	if n > MaxFilterExpressionLen {
		return &ValidationError{
			Type:   "InvalidExpression",
			Field:  "filter_expression",
			Detail: fmt.Sprintf("encoded expression exceeds maximum length of %d bytes", MaxFilterExpressionLen),
		}
	}
	return nil
}

func checkPrintable(typ, name string) error {
	for _, r := range name {
		if unicode.IsControl(r) {
			return &ValidationError{
				Type:   typ,
				Field:  name,
				Detail: "name contains control characters",
			}
		}
	}
	return nil
}
