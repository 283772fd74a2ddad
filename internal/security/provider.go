// Package security seals cache payloads for storage. It provides
// envelope encoding, AES-GCM encryption, HMAC integrity signatures,
// sensitive-data detection and key ring management.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// KeySize is the key length in bytes for both data and integrity keys.
const KeySize = 32

// CryptoProvider abstracts the primitives used to seal payloads, so
// tests and hosts with platform key stores can substitute their own.
type CryptoProvider interface {
	// Encrypt encrypts plaintext under key and returns the ciphertext.
	Encrypt(plaintext, key []byte) ([]byte, error)

	// Decrypt reverses Encrypt.
	Decrypt(ciphertext, key []byte) ([]byte, error)

	// Sign computes an integrity signature over data.
	Sign(data, key []byte) []byte

	// Verify reports whether signature matches data under key.
	Verify(data, key, signature []byte) bool

	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)
}

// AESGCMProvider is the default CryptoProvider: AES-256-GCM for
// encryption with the nonce prepended to the ciphertext, and
// HMAC-SHA256 for signatures.
type AESGCMProvider struct{}

// NewAESGCMProvider creates the default provider.
func NewAESGCMProvider() *AESGCMProvider {
	return &AESGCMProvider{}
}

// Encrypt encrypts plaintext using AES-GCM.
func (p *AESGCMProvider) Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts a nonce-prepended AES-GCM ciphertext.
func (p *AESGCMProvider) Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// Sign computes an HMAC-SHA256 signature over data.
func (p *AESGCMProvider) Sign(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks the signature in constant time.
func (p *AESGCMProvider) Verify(data, key, signature []byte) bool {
	expected := p.Sign(data, key)
	return hmac.Equal(expected, signature)
}

// RandomBytes returns n bytes from the system entropy source.
func (p *AESGCMProvider) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
