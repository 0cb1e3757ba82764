package signing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the work factor used for every stored hash.
const bcryptCost = 10

// ErrEmptyPassword is returned when hashing an empty password. Empty means
// "not protected" and is never stored as a hash.
var ErrEmptyPassword = errors.New("signing: empty password")

// HashPassword returns a salted bcrypt hash for storage. Passwords of any
// length are accepted; see prehash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword(prehash(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(out), nil
}

// LegacyHash is the unsalted lowercase hex SHA-256 that older records carry.
// It is only used to verify those records and by tests.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword checks a candidate against a stored hash. Both bcrypt hashes
// and legacy SHA-256 hex digests are accepted.
func VerifyPassword(stored, candidate string) bool {
	if stored == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), prehash(candidate)) == nil
	}
	want := strings.ToLower(stored)
	got := LegacyHash(candidate)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// prehash folds a password into 44 bytes so bcrypt's 72 byte input limit
// never applies and long passwords differ in every byte.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
