package driven

// TokenCipher encrypts OAuth tokens for storage at rest.
// Envelopes are "hex(nonce):hex(tag):hex(ciphertext)".
type TokenCipher interface {
	// Encrypt seals plaintext under a fresh nonce.
	Encrypt(plaintext string) (string, error)

	// Decrypt opens an envelope. Returns domain.ErrInvalidFormat for a
	// malformed envelope and domain.ErrAuthenticationFailed when the tag
	// does not verify.
	Decrypt(envelope string) (string, error)
}
