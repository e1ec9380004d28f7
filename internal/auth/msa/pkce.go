// Package msa implements the Microsoft consumer OAuth leg of the sign-in
// chain: PKCE material, the local redirect listener, and the token endpoint
// client used for both the initial code exchange and silent refresh.
package msa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// PKCECodes holds a PKCE verifier and its derived S256 challenge.
type PKCECodes struct {
	// CodeVerifier is the high-entropy secret kept local to the attempt.
	CodeVerifier string
	// CodeChallenge is the URL-safe base64 SHA-256 of the verifier.
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636 for the OAuth 2.0 PKCE extension. The challenge travels
// to the authorization server, the verifier never leaves the process until
// the token exchange.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateRandomHex()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateState creates the opaque state value tied to a single login
// attempt. Callbacks carrying any other state are discarded.
func GenerateState() (string, error) {
	state, err := generateRandomHex()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

// generateRandomHex creates a cryptographically random 128-character hex
// string from 64 bytes of entropy.
func generateRandomHex() (string, error) {
	bytes := make([]byte, 64)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// generateCodeChallenge creates a SHA256 hash of the code verifier and
// encodes it using URL-safe base64 encoding without padding.
func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
