// Package signature authenticates gateway notifications with the keyed
// SHA-512 digest the gateway attaches as signature_key.
package signature

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign returns lowercase hex(sha512(orderID + statusCode + grossAmount + serverKey)).
func Sign(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether received matches the expected digest, ignoring case.
// It fails closed on an empty key or signature.
func Verify(orderID, statusCode, grossAmount, serverKey, received string) bool {
	if serverKey == "" || received == "" {
		return false
	}
	expected := Sign(orderID, statusCode, grossAmount, serverKey)
	got := strings.ToLower(strings.TrimSpace(received))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Verifier binds a server key so callers do not pass the secret around.
type Verifier struct {
	serverKey string
}

func NewVerifier(serverKey string) *Verifier {
	return &Verifier{serverKey: serverKey}
}

func (v *Verifier) Verify(orderID, statusCode, grossAmount, received string) bool {
	return Verify(orderID, statusCode, grossAmount, v.serverKey, received)
}

func (v *Verifier) Sign(orderID, statusCode, grossAmount string) string {
	return Sign(orderID, statusCode, grossAmount, v.serverKey)
}
