// Package xbox implements the Xbox Live side of the sign-in chain: the
// per-attempt proof-of-possession device key, the request signing scheme, and
// the device-auth and SISU endpoints.
package xbox

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// DeviceKey is an ephemeral P-256 key pair that identifies one login attempt
// to the Xbox device-auth and SISU services. It is never persisted; every
// attempt and every refresh mints a fresh one.
type DeviceKey struct {
	// ID is the random device identity paired with the key.
	ID uuid.UUID
	// X and Y are the public coordinates, URL-safe base64 without padding.
	X string
	Y string

	key *ecdsa.PrivateKey
}

// GenerateKey mints a fresh device key.
func GenerateKey() (*DeviceKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}

	enc := base64.URLEncoding.WithPadding(base64.NoPadding)
	coord := make([]byte, 32)

	key.PublicKey.X.FillBytes(coord)
	x := enc.EncodeToString(coord)
	key.PublicKey.Y.FillBytes(coord)
	y := enc.EncodeToString(coord)

	return &DeviceKey{
		ID:  uuid.New(),
		X:   x,
		Y:   y,
		key: key,
	}, nil
}

// DeviceID returns the identity in the brace-wrapped uppercase form the
// device-auth endpoint expects.
func (k *DeviceKey) DeviceID() string {
	return "{" + strings.ToUpper(k.ID.String()) + "}"
}

// ProofKey returns the public half as the JWK object embedded in device-auth
// and SISU authorize bodies.
func (k *DeviceKey) ProofKey() map[string]string {
	return map[string]string{
		"kty": "EC",
		"x":   k.X,
		"y":   k.Y,
		"crv": "P-256",
		"alg": "ES256",
		"use": "sig",
	}
}

// Sign signs the payload with ECDSA P-256 over its SHA-256 digest and returns
// the raw 64-byte r||s form, each component left-padded to 32 bytes.
func (k *DeviceKey) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	r, s, err := ecdsa.Sign(rand.Reader, k.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign request payload: %w", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify reports whether sig is a valid signature of payload under this key.
func (k *DeviceKey) Verify(payload, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	digest := sha256.Sum256(payload)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(&k.key.PublicKey, digest[:], r, s)
}
