// Package signature provides HMAC-SHA256 signing for outbound webhook
// deliveries, plus the matching verification helper for receivers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestamp}.{payload}".
// Returns a versioned signature in the format "v1=<hex>".
func Sign(payload []byte, secret string, timestamp int64) string {
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks whether the given signature matches the expected HMAC-SHA256
// signature for the payload, secret, and timestamp. Receivers use this to
// authenticate deliveries.
func Verify(payload []byte, secret string, timestamp int64, sig string) bool {
	expected := Sign(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}
