// Package signature verifies gateway HMAC-SHA256 signatures over raw bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verifier checks hex encoded HMAC-SHA256 signatures with a fixed secret.
// An optional prefix such as "sha256=" is stripped from incoming signatures.
type Verifier struct {
	secret []byte
	prefix string
}

func NewVerifier(secret, prefix string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(secret)), prefix: prefix}
}

// Verify reports whether sig is the HMAC of payload. It never panics;
// empty inputs and malformed hex are simply invalid.
func (v *Verifier) Verify(payload []byte, sig string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	sig = strings.TrimSpace(sig)
	if v.prefix != "" {
		sig = strings.TrimPrefix(sig, v.prefix)
	}
	if sig == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(v.Sign(payload), decoded)
}

// VerifyPayment checks a checkout signature, computed over "orderRef|paymentRef".
func (v *Verifier) VerifyPayment(orderRef, paymentRef, sig string) bool {
	if orderRef == "" || paymentRef == "" {
		return false
	}
	return v.Verify([]byte(orderRef+"|"+paymentRef), sig)
}

// Sign returns the raw HMAC of payload.
func (v *Verifier) Sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHex returns the hex encoded HMAC of payload.
func (v *Verifier) SignHex(payload []byte) string {
	return hex.EncodeToString(v.Sign(payload))
}
