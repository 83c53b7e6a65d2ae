package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialSecrets = map[string]struct{}{
	"password":    {},
	"password123": {},
	"123456":      {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"11111111":    {},
	"letmein":     {},
}

// Validate checks the secret against the policy. Length is counted in runes.
func (c Config) Validate(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(secret) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches a repeated single character, short all-digit PINs and a
// handful of well-known secrets. It is not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	if utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true
	}

	_, trivial := trivialSecrets[strings.ToLower(s)]
	return trivial
}
