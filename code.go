package toolrelay

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

var codePattern = regexp.MustCompile(`^[A-Z2-7]{8}$`)

// GenerateCode returns a new random session code drawn from CodeAlphabet
// using a cryptographically secure source.
func GenerateCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session code: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// IsValidCode reports whether code has the canonical session code form.
// Codes are case-sensitive; lowercase and the digits 0, 1, 8, 9 are rejected.
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}
