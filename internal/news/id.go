package news

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	idPrefix    = "news_"
	idHexLength = 30
)

// IDFor derives the stable candidate id for an article link. It depends on
// the link only, so the same article maps to the same id in every cycle.
func IDFor(link string) string {
	sum := sha256.Sum256([]byte(link))
	return idPrefix + hex.EncodeToString(sum[:])[:idHexLength]
}
