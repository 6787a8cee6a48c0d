package toolrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, IsValidCode(code), "generated code %q must be valid", code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, "codes should not collide in a small sample")
}

func TestIsValidCode(t *testing.T) {
	testCases := []struct {
		description string
		code        string
		valid       bool
	}{
		{description: "canonical code", code: "ABCDEF23", valid: true},
		{description: "all letters", code: "ZZZZZZZZ", valid: true},
		{description: "too short", code: "ABCDEF2", valid: false},
		{description: "too long", code: "ABCDEF234", valid: false},
		{description: "lowercase", code: "abcdef23", valid: false},
		{description: "digit zero", code: "ABCDEF20", valid: false},
		{description: "digit one", code: "ABCDEF21", valid: false},
		{description: "digit eight", code: "ABCDEF28", valid: false},
		{description: "digit nine", code: "ABCDEF29", valid: false},
		{description: "empty", code: "", valid: false},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.valid, IsValidCode(testCase.code), testCase.description)
	}
}
