package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	aerr "github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

func TestBinNameValidation(t *testing.T) {
	t.Run("ValidBinNames", func(t *testing.T) {
		for _, name := range []string{"age", "status", "a", strings.Repeat("b", MaxBinNameLength)} {
			assert.NoError(t, ValidateBinName(name), name)
		}
	})

	t.Run("RejectEmptyBinName", func(t *testing.T) {
		err := ValidateBinName("")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "bin name cannot be empty")
		assert.True(t, errors.Is(err, aerr.ErrInvalidArgument))
	})

	t.Run("RejectOversizedBinName", func(t *testing.T) {
		err := ValidateBinName(strings.Repeat("a", MaxBinNameLength+1))
		assert.Error(t, err)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.Equal(t, "InvalidBinName", ve.Type)
	})

	t.Run("RejectControlCharacters", func(t *testing.T) {
		assert.Error(t, ValidateBinName("a\x00b"))
	})
}

func TestNamespaceAndSetValidation(t *testing.T) {
	assert.NoError(t, ValidateNamespace("test"))
	assert.Error(t, ValidateNamespace(""))
	assert.Error(t, ValidateNamespace(strings.Repeat("n", MaxNamespaceLength+1)))

	assert.NoError(t, ValidateSetName(""))
	assert.NoError(t, ValidateSetName("demo"))
	assert.Error(t, ValidateSetName(strings.Repeat("s", MaxSetNameLength+1)))
}

func TestVarNameValidation(t *testing.T) {
	for _, name := range []string{"x", "_tmp", "total2"} {
		assert.NoError(t, ValidateVarName(name), name)
	}
	for _, name := range []string{"", "2x", "a-b", "a b"} {
		assert.Error(t, ValidateVarName(name), name)
	}
}

func TestRegexValidation(t *testing.T) {
	assert.NoError(t, ValidateRegex("^prefix.*"))
	assert.Error(t, ValidateRegex(""))
	assert.Error(t, ValidateRegex(strings.Repeat("a", MaxRegexLength+1)))
	assert.Error(t, ValidateRegex(string([]byte{0xff, 0xfe})))
}

func TestValueValidation(t *testing.T) {
	assert.NoError(t, ValidateValue(types.ListValue(types.IntValue(1), types.StringValue("a"))))

	nested := types.IntValue(1)
	for i := 0; i <= MaxNestedDepth+1; i++ {
		nested = types.ListValue(nested)
	}
	assert.Error(t, ValidateValue(nested))

	big := types.StringValue(strings.Repeat("x", MaxValueStringLength+1))
	assert.Error(t, ValidateValue(types.StringMap(map[string]types.Value{"k": big})))
}

func TestFilterSizeValidation(t *testing.T) {
	assert.NoError(t, ValidateFilterSize(10))
	assert.Error(t, ValidateFilterSize(MaxFilterExpressionLen+1))
}
