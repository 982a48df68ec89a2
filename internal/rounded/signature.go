package rounded

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the provider's HMAC of the request body.
const SignatureHeader = "X-Rounded-Signature"

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks the signature header against the raw request body.
// Fails closed: an empty secret or header never verifies. An optional
// "sha256=" prefix on the header value is accepted.
func VerifySignature(secret, header string, payload []byte) bool {
	if secret == "" || header == "" {
		return false
	}
	header = strings.TrimPrefix(header, "sha256=")
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(header))
}
