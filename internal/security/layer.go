package security

import (
	"context"
	"fmt"
	"sync"

	"pocketcache/internal/cache"
)

// Layer seals plaintext payloads into envelopes and opens them again.
// It owns the key ring for the lifetime of the engine and survives key
// rotations: payloads sealed under the previous generation remain
// readable and are flagged for re-sealing.
type Layer struct {
	mu        sync.RWMutex
	provider  CryptoProvider
	ring      *KeyRing
	rings     *RingStore
	integrity bool
}

// NewLayer creates a sealing layer around an already loaded key ring.
func NewLayer(provider CryptoProvider, ring *KeyRing, rings *RingStore, enableIntegrity bool) *Layer {
	return &Layer{
		provider:  provider,
		ring:      ring,
		rings:     rings,
		integrity: enableIntegrity,
	}
}

// Seal wraps plaintext in an envelope. With encrypt set the body is
// AES-GCM ciphertext under the current data key; otherwise it is the
// plaintext itself. When integrity checking is on, the envelope is
// signed with the current integrity key.
func (l *Layer) Seal(plain []byte, encrypt bool) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	env := Envelope{Version: EnvelopeV0Plain, Body: plain}
	if encrypt {
		body, err := l.provider.Encrypt(plain, l.ring.Current.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payload: %w", err)
		}
		env.Version = EnvelopeV1Sealed
		env.Body = body
	}

	if l.integrity {
		env.Signature = l.provider.Sign(macInput(env.Version, env.Body), l.ring.Current.Integrity)
	}

	return EncodeEnvelope(env), nil
}

// Open unwraps a stored envelope. The second return is true when the
// payload was sealed under the previous key generation and should be
// re-sealed by the caller. Any verification or decryption failure is
// reported as cache.ErrIntegrityViolation. skipIntegrity bypasses the
// signature check for this one read; decryption still has to succeed.
func (l *Layer) Open(raw []byte, skipIntegrity bool) ([]byte, bool, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, false, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	pair := &l.ring.Current
	usedPrevious := false
	verify := l.integrity && !skipIntegrity

	if verify {
		// Signature is checked before anything else; a missing one
		// counts as tampering.
		input := macInput(env.Version, env.Body)
		switch {
		case len(env.Signature) == 0:
			return nil, false, fmt.Errorf("%w: missing signature", cache.ErrIntegrityViolation)
		case l.provider.Verify(input, l.ring.Current.Integrity, env.Signature):
		case l.ring.Previous != nil && l.provider.Verify(input, l.ring.Previous.Integrity, env.Signature):
			pair = l.ring.Previous
			usedPrevious = true
		default:
			return nil, false, fmt.Errorf("%w: signature mismatch", cache.ErrIntegrityViolation)
		}
	}

	if env.Version == EnvelopeV0Plain {
		return env.Body, usedPrevious, nil
	}

	if verify {
		// The generation is pinned by whichever key verified the
		// signature; no cross-generation decryption.
		plain, err := l.provider.Decrypt(env.Body, pair.Data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", cache.ErrIntegrityViolation, err)
		}
		return plain, usedPrevious, nil
	}

	// Without signatures, GCM authentication decides the generation.
	if plain, err := l.provider.Decrypt(env.Body, l.ring.Current.Data); err == nil {
		return plain, false, nil
	}
	if l.ring.Previous != nil {
		if plain, err := l.provider.Decrypt(env.Body, l.ring.Previous.Data); err == nil {
			return plain, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: payload does not decrypt under any known key", cache.ErrIntegrityViolation)
}

// Rotate generates a new key generation and persists the updated ring.
// A non-empty newMasterSecret also re-seals the ring under a freshly
// derived master key.
func (l *Layer) Rotate(ctx context.Context, newMasterSecret string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if newMasterSecret != "" {
		l.rings.SetMasterSecret(newMasterSecret)
	}
	if err := l.ring.Rotate(l.provider); err != nil {
		return err
	}
	return l.rings.Save(ctx, l.ring)
}

// Version returns the current key generation number.
func (l *Layer) Version() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Version
}

// macInput binds the version byte into the signature so an envelope
// cannot be downgraded to plaintext without detection.
func macInput(version byte, body []byte) []byte {
	input := make([]byte, 1+len(body))
	input[0] = version
	copy(input[1:], body)
	return input
}
