package msa

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestGeneratePKCECodes(t *testing.T) {
	t.Parallel()

	codes, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	if len(codes.CodeVerifier) != 128 {
		t.Errorf("verifier length = %d, want 128", len(codes.CodeVerifier))
	}
	if _, err := hex.DecodeString(codes.CodeVerifier); err != nil {
		t.Errorf("verifier is not hex: %v", err)
	}

	hash := sha256.Sum256([]byte(codes.CodeVerifier))
	want := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
	if codes.CodeChallenge != want {
		t.Errorf("challenge = %q, want = %q", codes.CodeChallenge, want)
	}

	other, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}
	if other.CodeVerifier == codes.CodeVerifier {
		t.Error("two verifiers are identical")
	}
}

func TestGenerateState(t *testing.T) {
	t.Parallel()

	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	if len(a) != 128 {
		t.Errorf("state length = %d, want 128", len(a))
	}
	if a == b {
		t.Error("two states are identical")
	}
}
