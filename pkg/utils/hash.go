package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex encoded sha256 of a token.
// Configured tokens are only kept in hashed form.
func HashToken(arg string) string {
	hasher := sha256.New()
	hasher.Write([]byte(arg))
	return hex.EncodeToString(hasher.Sum(nil))
}

// TokenMatches compares a plain token against a hashed one in constant time
func TokenMatches(plain, hashed string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(plain)), []byte(hashed)) == 1
}
