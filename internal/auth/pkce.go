package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCECodes holds a PKCE code verifier and its derived S256 challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636. The verifier carries 96 bytes of randomness encoded as
// 128 URL-safe base64 characters; the challenge is base64url(SHA-256(verifier)).
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := randomURLSafe(96)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: deriveCodeChallenge(codeVerifier),
	}, nil
}

// deriveCodeChallenge applies the S256 challenge method to a code verifier.
func deriveCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}

// randomURLSafe returns n bytes of randomness encoded as unpadded URL-safe
// base64. Also used for the state and nonce values of the authorization URL.
func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
