package mocks

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.TokenCipher = (*MockTokenCipher)(nil)

// MockTokenCipher wraps plaintext in a readable envelope.
// NOT secure - only for testing.
type MockTokenCipher struct {
	counter atomic.Int64

	EncryptFn func(plaintext string) (string, error)
	DecryptFn func(envelope string) (string, error)
}

// NewMockTokenCipher creates a new MockTokenCipher
func NewMockTokenCipher() *MockTokenCipher {
	return &MockTokenCipher{}
}

func (m *MockTokenCipher) Encrypt(plaintext string) (string, error) {
	if m.EncryptFn != nil {
		return m.EncryptFn(plaintext)
	}
	// a counter stands in for the nonce so envelopes differ per call
	n := m.counter.Add(1)
	return "enc:" + strconv.FormatInt(n, 10) + ":" + plaintext, nil
}

func (m *MockTokenCipher) Decrypt(envelope string) (string, error) {
	if m.DecryptFn != nil {
		return m.DecryptFn(envelope)
	}
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || parts[0] != "enc" {
		return "", domain.ErrInvalidFormat
	}
	return parts[2], nil
}
