package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// unreservedChars is the RFC 7636 code-verifier alphabet. State values use
// the same set.
const unreservedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const (
	verifierLength = 128
	stateLength    = 32
)

// RandomSource abstracts the CSPRNG so PKCE and state generation are
// reproducible in tests.
type RandomSource interface {
	Bytes(n int) ([]byte, error)
}

// CryptoSource reads from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return buf, nil
}

// PKCEPair binds a code verifier to its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

// NewPKCEPair generates a fresh verifier/challenge pair. The verifier is 128
// characters drawn uniformly from the unreserved set.
func NewPKCEPair(src RandomSource) (PKCEPair, error) {
	verifier, err := randomString(src, verifierLength)
	if err != nil {
		return PKCEPair{}, fmt.Errorf("generate verifier: %w", err)
	}
	return PKCEPair{Verifier: verifier, Challenge: ChallengeS256(verifier)}, nil
}

// NewState generates a fresh anti-forgery state value.
func NewState(src RandomSource) (string, error) {
	state, err := randomString(src, stateLength)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return state, nil
}

// ChallengeS256 computes the base64url-without-padding SHA-256 challenge for
// a verifier.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString samples uniformly from unreservedChars. Bytes at or above the
// largest multiple of the alphabet size are rejected and redrawn, so no
// character is favoured by the modulo.
func randomString(src RandomSource, length int) (string, error) {
	const alphabetSize = len(unreservedChars)
	limit := byte(256 - 256%alphabetSize)

	out := make([]byte, 0, length)
	for len(out) < length {
		buf, err := src.Bytes(length)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, unreservedChars[int(b)%alphabetSize])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
