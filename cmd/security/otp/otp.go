// Package otp generates and compares the numeric one-time codes used for
// password recovery.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
)

// DefaultDigits is the code length sent to users.
const DefaultDigits = 6

var ErrInvalidDigits = errors.New("otp: digits must be between 4 and 10")

// Generate returns a uniformly random numeric code of the given length, zero padded.
func Generate(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", ErrInvalidDigits
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	s := n.String()
	if pad := digits - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}

// Equal compares a stored code with a submitted one in constant time.
// An empty stored code never matches.
func Equal(stored, submitted string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
