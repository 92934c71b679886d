package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ContentHashLength is the number of hex characters kept from the digest.
const ContentHashLength = 16

// ContentHash derives the dedup key for comments and plan items.
// The same (content, author, timestamp) triple always yields the same value.
func ContentHash(content, author string, timestamp float64) string {
	sum := sha256.Sum256([]byte(content + author + strconv.FormatFloat(timestamp, 'f', -1, 64)))
	return hex.EncodeToString(sum[:])[:ContentHashLength]
}
