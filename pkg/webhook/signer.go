// Package webhook delivers outbound events to subscriber endpoints and
// verifies inbound webhooks from external systems. Outbound deliveries
// are drained from the store's delivery rows by a worker pool; every
// request is signed so receivers can authenticate the sender.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// SignaturePrefix tags the signature scheme in the X-Signature header.
const SignaturePrefix = "sha256="

// Sign computes the signature header value for a request: HMAC-SHA256
// over the timestamp (seconds since epoch, as sent in X-Timestamp), a
// literal dot, and the raw body bytes.
func Sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header against the expected value
// in constant time. The header must carry the sha256= prefix.
func Verify(secret string, timestamp int64, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return false
	}
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
