// Package signature authenticates batch uploads with an HMAC-SHA256 over
// "{timestamp}.{body}" keyed by the project ingest key.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign computes the versioned signature "v1=<hex>" for payload.
func Sign(payload []byte, key string, timestamp int64) string {
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of payload at timestamp.
func Verify(payload []byte, key string, timestamp int64, sig string) bool {
	expected := Sign(payload, key, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}
