package security

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"pocketcache/internal/store"
)

// KeyPair holds one generation of keys: one for payload encryption,
// one for integrity signatures.
type KeyPair struct {
	Data      []byte `json:"data"`
	Integrity []byte `json:"integrity"`
}

// KeyRing is the current key material plus, after a rotation, the
// previous generation so existing payloads stay readable until they
// are re-sealed.
type KeyRing struct {
	Version  uint32   `json:"version"`
	Current  KeyPair  `json:"current"`
	Previous *KeyPair `json:"previous,omitempty"`
}

// NewKeyRing generates a fresh key ring.
func NewKeyRing(provider CryptoProvider) (*KeyRing, error) {
	current, err := newKeyPair(provider)
	if err != nil {
		return nil, err
	}
	return &KeyRing{Version: 1, Current: current}, nil
}

// Rotate replaces the current key pair with a new generation, keeping
// the old pair as Previous.
func (r *KeyRing) Rotate(provider CryptoProvider) error {
	next, err := newKeyPair(provider)
	if err != nil {
		return err
	}

	old := r.Current
	r.Previous = &old
	r.Current = next
	r.Version++
	return nil
}

func newKeyPair(provider CryptoProvider) (KeyPair, error) {
	data, err := provider.RandomBytes(KeySize)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate data key: %w", err)
	}
	integrity, err := provider.RandomBytes(KeySize)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate integrity key: %w", err)
	}
	return KeyPair{Data: data, Integrity: integrity}, nil
}

// RingStore persists a key ring through the backing store, sealed
// under a key derived from the host-supplied master secret.
type RingStore struct {
	store      store.Store
	storageKey string
	master     []byte
	provider   CryptoProvider
}

// NewRingStore creates a ring store writing to storageKey.
func NewRingStore(s store.Store, storageKey, masterSecret string, provider CryptoProvider) *RingStore {
	return &RingStore{
		store:      s,
		storageKey: storageKey,
		master:     deriveMasterKey(masterSecret),
		provider:   provider,
	}
}

// SetMasterSecret re-derives the sealing key. The caller must Save
// afterwards so the persisted ring matches the new secret.
func (rs *RingStore) SetMasterSecret(secret string) {
	rs.master = deriveMasterKey(secret)
}

// Load returns the persisted key ring, or a freshly generated one when
// none exists or the persisted ring cannot be opened. The second
// return is true when the ring is fresh; everything sealed under an
// unreadable old ring is garbage, so callers should purge on fresh.
func (rs *RingStore) Load(ctx context.Context) (*KeyRing, bool, error) {
	sealed, found, err := rs.store.Get(ctx, rs.storageKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key ring: %w", err)
	}

	if found {
		if ring := rs.open(sealed); ring != nil {
			return ring, false, nil
		}
		// Unreadable ring: wrong master secret or corrupted bytes.
		// Fall through and start over.
	}

	ring, err := NewKeyRing(rs.provider)
	if err != nil {
		return nil, false, err
	}
	if err := rs.Save(ctx, ring); err != nil {
		return nil, false, err
	}
	return ring, true, nil
}

// Save seals and persists the ring.
func (rs *RingStore) Save(ctx context.Context, ring *KeyRing) error {
	plain, err := json.Marshal(ring)
	if err != nil {
		return fmt.Errorf("failed to marshal key ring: %w", err)
	}

	sealed, err := rs.provider.Encrypt(plain, rs.master)
	if err != nil {
		return fmt.Errorf("failed to seal key ring: %w", err)
	}

	if err := rs.store.Set(ctx, rs.storageKey, sealed); err != nil {
		return fmt.Errorf("failed to persist key ring: %w", err)
	}
	return nil
}

func (rs *RingStore) open(sealed []byte) *KeyRing {
	plain, err := rs.provider.Decrypt(sealed, rs.master)
	if err != nil {
		return nil
	}
	var ring KeyRing
	if err := json.Unmarshal(plain, &ring); err != nil {
		return nil
	}
	if len(ring.Current.Data) != KeySize || len(ring.Current.Integrity) != KeySize {
		return nil
	}
	return &ring
}

// deriveMasterKey stretches the configured secret into an AES-256 key.
func deriveMasterKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
