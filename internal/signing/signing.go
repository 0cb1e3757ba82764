// Package signing issues and checks the view tokens that unlock inline
// previews of password protected shares. A token is an HMAC over the share id
// and the stored password hash, so it stops working as soon as the share is
// gone or re-protected.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer generates and validates HMAC based view tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer keyed with the server master key.
func NewSigner(secret []byte) *Signer {
	// Copy so a caller zeroing its buffer cannot invalidate live tokens.
	return &Signer{secret: append([]byte(nil), secret...)}
}

// Sign returns the hex view token for a share.
func (s *Signer) Sign(shareID, passwordHash string) string {
	// hmac.New accepts a hash constructor (sha256.New) plus the secret key.
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(shareID))
	mac.Write([]byte(passwordHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided token with the expected one.
func (s *Signer) Validate(shareID, passwordHash, token string) bool {
	if token == "" {
		return false
	}
	expected := s.Sign(shareID, passwordHash)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(token))
}
