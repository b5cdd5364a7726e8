// Package csrf issues and verifies per-session anti-forgery tokens.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

const tokenSize = 32

// Issue generates a cryptographically random token bound to one session.
func Issue() (string, error) {
	var raw [tokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Verify compares a client-supplied candidate against the session's issued
// token in constant time. The comparison never short-circuits, so its
// duration is independent of where a mismatch occurs.
func Verify(candidate, issued string) bool {
	if issued == "" || len(candidate) != len(issued) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(issued)) == 1
}
