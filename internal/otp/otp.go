// Package otp issues and verifies one-time codes that authenticate a signer by email.
package otp

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const codeDigits = 6

// emailMask replaces the hidden part of the local-part; its length never depends on the address.
const emailMask = "***"

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit numeric code (e.g. "042917") from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	s := n.String()
	return strings.Repeat("0", codeDigits-len(s)) + s, nil
}

// WellFormedCode reports whether code is exactly six ASCII digits.
func WellFormedCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// MaskEmail keeps the first character of the local-part and the full domain:
// "maria@example.com" becomes "m***@example.com". Addresses without a usable
// local-part or domain are masked entirely.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return emailMask
	}
	local, domain := email[:at], email[at+1:]
	first := []rune(local)[0]
	return string(first) + emailMask + "@" + domain
}
