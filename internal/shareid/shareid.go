// Package shareid issues the public identifiers that appear in share links.
// Identifiers are random bytes encoded with base64url so they can be pasted
// into a URL path without escaping.
package shareid

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// idBytes is the entropy per identifier: 72 bits keeps collisions negligible
// for an ephemeral store while producing a short 12 character token.
const idBytes = 9

// Len is the length of every encoded identifier.
var Len = base64.RawURLEncoding.EncodedLen(idBytes)

// NewShareID returns a fresh identifier for a single uploaded file.
func NewShareID() (string, error) {
	return random()
}

// NewBatchID returns a fresh identifier grouping files uploaded together.
func NewBatchID() (string, error) {
	return random()
}

// maxLen bounds identifiers accepted from requests. Older links used shorter
// tokens, so only the alphabet and an upper bound are enforced.
const maxLen = 64

// Valid reports whether s could be an identifier. Handlers use it to reject
// junk before touching the store.
func Valid(s string) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func random() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	// RawURLEncoding omits '=' padding, keeping the token free of reserved characters.
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
