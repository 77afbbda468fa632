// Package session issues and verifies the signed cookie pair that asserts
// a previously verified identity.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/idp"
)

// Credential is the value pair stored in the permissions and signature
// cookies.
type Credential struct {
	Permissions string
	Signature   string
}

// Codec binds identities to a User-Agent with the process secret.
type Codec struct {
	signer crypto.Signer
}

// NewCodec creates a codec keyed by secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{signer: crypto.NewSigner(secret)}
}

// Issue serialises identity and signs it together with userAgent.
func (c *Codec) Issue(identity idp.Identity, userAgent string) (Credential, error) {
	raw, err := json.Marshal(identity)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to encode identity: %w", err)
	}
	permissions := base64.StdEncoding.EncodeToString(raw)
	return Credential{
		Permissions: permissions,
		Signature:   c.signer.Sign(permissions, userAgent),
	}, nil
}

// Verify reports whether signature matches permissions for userAgent.
// The permissions value is not parsed.
func (c *Codec) Verify(permissions, signature, userAgent string) bool {
	if permissions == "" {
		return false
	}
	return c.signer.Verify(signature, permissions, userAgent)
}

// Decode parses a permissions value. Callers must Verify it first.
func (c *Codec) Decode(permissions string) (idp.Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(permissions)
	if err != nil {
		return idp.Identity{}, fmt.Errorf("failed to decode permissions: %w", err)
	}
	var identity idp.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return idp.Identity{}, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if identity.Email == "" {
		return idp.Identity{}, errors.New("permissions carry no email")
	}
	return identity, nil
}
