// Package crypto seals OAuth tokens for storage at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

const (
	// KeySize is the required key size for AES-256 and ChaCha20-Poly1305
	KeySize = 32

	// nonceSize is the 96-bit nonce both algorithms use
	nonceSize = 12

	// tagSize is the 128-bit authentication tag both algorithms produce
	tagSize = 16

	envelopeParts = 3
)

// Algorithm selects the AEAD construction.
type Algorithm string

const (
	AlgorithmAESGCM   Algorithm = "aes-256-gcm"
	AlgorithmChaCha20 Algorithm = "chacha20-poly1305"
)

// Ensure TokenCipher implements driven.TokenCipher
var _ driven.TokenCipher = (*TokenCipher)(nil)

// TokenCipher seals strings into "hex(nonce):hex(tag):hex(ciphertext)"
// envelopes. Every Encrypt draws a fresh random nonce.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher with the given 32-byte key.
func NewTokenCipher(key []byte, algorithm Algorithm) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes, got %d", domain.ErrConfiguration, KeySize, len(key))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch algorithm {
	case AlgorithmAESGCM, "":
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create AES cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
	case AlgorithmChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unsupported token cipher %q", domain.ErrConfiguration, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", algorithm, err)
	}

	return &TokenCipher{aead: aead}, nil
}

// NewTokenCipherFromHex parses a 64-character hex key.
func NewTokenCipherFromHex(hexKey string, algorithm Algorithm) (*TokenCipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY is not set", domain.ErrConfiguration)
	}
	if len(hexKey) != KeySize*2 {
		return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY must be %d hex characters, got %d",
			domain.ErrConfiguration, KeySize*2, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY is not valid hex", domain.ErrConfiguration)
	}
	return NewTokenCipher(key, algorithm)
}

// Encrypt seals plaintext under a fresh nonce.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *TokenCipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != envelopeParts {
		return "", fmt.Errorf("%w: expected %d parts, got %d", domain.ErrInvalidFormat, envelopeParts, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", domain.ErrInvalidFormat)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad auth tag", domain.ErrInvalidFormat)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", domain.ErrInvalidFormat)
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", domain.ErrAuthenticationFailed
	}
	return string(plaintext), nil
}
