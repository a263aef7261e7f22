package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// publicTokenBytes is the entropy of a signer link token (256 bits).
const publicTokenBytes = 32

// PublicTokenLen is the length of an encoded public token (base64url, no padding).
var PublicTokenLen = base64.RawURLEncoding.EncodedLen(publicTokenBytes)

// GeneratePublicToken returns a new unguessable bearer token for a signer link.
// The raw token is handed out once; only HashPublicToken of it is stored.
func GeneratePublicToken() (string, error) {
	b := make([]byte, publicTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashPublicToken returns a SHA-256 hash of the token string, hex-encoded.
// Used for storing and looking up public tokens without storing the raw token.
func HashPublicToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// PublicTokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func PublicTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashPublicToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// WellFormedPublicToken reports whether token has the shape of a generated public token.
func WellFormedPublicToken(token string) bool {
	if len(token) != PublicTokenLen {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}
