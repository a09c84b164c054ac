package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Sup3r$ecret")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "Sup3r$ecret"))
	assert.False(t, CheckPassword(hash, "Sup3r$ecreT"))
}

func TestLongPasswordsTruncateConsistently(t *testing.T) {
	long := strings.Repeat("Aa1!", 30) // 120 bytes
	hash, err := HashPassword(long)
	require.NoError(t, err)

	// bcrypt only sees the first 72 bytes; verification must agree.
	assert.True(t, CheckPassword(hash, long))
	assert.True(t, CheckPassword(hash, long[:72]))
}

func TestValidatePasswordCollectsAllViolations(t *testing.T) {
	errs := ValidatePassword("short")
	fields := make(map[string]bool)
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		fields[e.Field] = true
		messages = append(messages, e.Message)
	}
	assert.True(t, fields["password"])
	// short, no upper, no digit, no symbol
	assert.Len(t, errs, 4, "got: %v", messages)
}

func TestValidatePasswordAccepts(t *testing.T) {
	assert.Empty(t, ValidatePassword("Corr3ct-horse"))
}

func TestValidatePasswordSymbolSetIsClosed(t *testing.T) {
	// Whitespace and other runes outside the accepted set must not count
	// as the required symbol.
	for _, pw := range []string{"Passw0rd ", "Passw0rd\t", "Passw0rdé"} {
		errs := ValidatePassword(pw)
		require.Len(t, errs, 1, "password %q", pw)
		assert.Equal(t, "must contain a symbol", errs[0].Message)
	}

	assert.Empty(t, ValidatePassword("Passw0rd!"))
	assert.Empty(t, ValidatePassword(`Passw0rd"`))
	assert.Empty(t, ValidatePassword("Passw0rd~"))
}
