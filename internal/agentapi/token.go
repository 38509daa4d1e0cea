package agentapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// newToken generates a random agent auth token and its storage hash.
// The plaintext is returned to the agent once and never persisted.
func newToken() (plaintext, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, hashToken(plaintext), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// tokenMatches compares a presented token against a stored hash in
// constant time.
func tokenMatches(token, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	presented := hashToken(token)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(storedHash)) == 1
}
