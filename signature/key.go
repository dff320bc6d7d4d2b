package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// KeyPrefix starts every generated ingest key.
const KeyPrefix = "rwk_"

// GenerateKey creates a random project ingest key: "rwk_" followed by 24
// random bytes in hex.
func GenerateKey() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic("rewind: failed to generate ingest key: " + err.Error())
	}
	return KeyPrefix + hex.EncodeToString(b)
}
