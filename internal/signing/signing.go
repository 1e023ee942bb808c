package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the HMAC-SHA256 of payload with secret and returns the
// lowercase hex digest. Receivers recompute this over the raw body bytes and
// compare against the signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the HMAC-SHA256 of payload with
// secret, using a constant-time comparison.
func Verify(secret string, payload []byte, signature string) bool {
	want := Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(signature))
}
