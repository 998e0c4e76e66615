package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// OpaqueToken is a random value handed to the client (Raw) and the digest
// that is persisted in its place (Hash).
type OpaqueToken struct {
	Raw  string
	Hash string
}

// NewOpaqueToken returns 48 random bytes hex-encoded (96 characters).
func NewOpaqueToken() (OpaqueToken, error) {
	raw, err := randomHex(48)
	if err != nil {
		return OpaqueToken{}, err
	}
	return OpaqueToken{Raw: raw, Hash: HashToken(raw)}, nil
}

// HashToken returns the SHA-256 hex digest of a raw token.  Storing only the
// digest keeps a leaked table from being replayable.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
