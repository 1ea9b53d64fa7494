package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable identity key for an event from its title
// and canonical URL. The source name is deliberately excluded: the same
// article re-syndicated by multiple sources must collapse to one record.
func Fingerprint(title, url string) string {
	h := sha256.New()
	h.Write([]byte(normalizeForIdentity(title)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForIdentity(url)))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintEvent is a convenience wrapper over Fingerprint.
func FingerprintEvent(e *RawEvent) string {
	return Fingerprint(e.Title, e.URL)
}

func normalizeForIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
