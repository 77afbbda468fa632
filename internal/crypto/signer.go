package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Signer produces deterministic HMAC-SHA256 signatures keyed by the shared
// secret. Identical input always yields the identical signature.
type Signer struct {
	key []byte
}

// NewSigner creates a signer for the given secret.
func NewSigner(secret []byte) Signer {
	key := make([]byte, len(secret))
	copy(key, secret)
	return Signer{key: key}
}

// Sign returns base64(HMAC-SHA256(key, parts[0] ‖ parts[1] ‖ ...)).
func (s Signer) Sign(parts ...string) string {
	return SignData(strings.Join(parts, ""), s.key)
}

// Verify recomputes the signature over parts and compares it in constant time.
func (s Signer) Verify(signature string, parts ...string) bool {
	return ValidateSignedData(strings.Join(parts, ""), signature, s.key)
}

// DeriveKey returns a 32 byte HKDF-SHA256 key bound to purpose, so
// signatures made for one purpose never verify for another.
func DeriveKey(secret []byte, purpose string) []byte {
	key := make([]byte, sha256.Size)
	// Reading 32 bytes from HKDF-SHA256 cannot fail.
	_, _ = io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key)
	return key
}

// SignData signs data with key.
func SignData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignedData reports whether signature is the signature of data.
func ValidateSignedData(data, signature string, key []byte) bool {
	if signature == "" {
		return false
	}
	expected := SignData(data, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}
