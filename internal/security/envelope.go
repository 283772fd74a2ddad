package security

import (
	"encoding/binary"
	"fmt"

	"pocketcache/internal/cache"
)

// Envelope versions. Unknown versions are rejected so that a corrupted
// or forged version byte can never bypass verification.
const (
	// EnvelopeV0Plain carries the payload unencrypted, optionally signed.
	EnvelopeV0Plain byte = 0x00

	// EnvelopeV1Sealed carries an AES-GCM ciphertext, optionally signed.
	EnvelopeV1Sealed byte = 0x01
)

// envelopeHeaderSize is the fixed prefix: version byte plus the
// little-endian uint16 signature length.
const envelopeHeaderSize = 3

// Envelope is the storage framing around every persisted payload:
//
//	[version u8][sigLen u16 LE][signature][body]
type Envelope struct {
	Version   byte
	Signature []byte
	Body      []byte
}

// EncodeEnvelope serializes an envelope to its storage form.
func EncodeEnvelope(env Envelope) []byte {
	out := make([]byte, envelopeHeaderSize+len(env.Signature)+len(env.Body))
	out[0] = env.Version
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(env.Signature)))
	copy(out[envelopeHeaderSize:], env.Signature)
	copy(out[envelopeHeaderSize+len(env.Signature):], env.Body)
	return out
}

// DecodeEnvelope parses raw stored bytes. Truncated input and unknown
// versions fail closed as integrity violations.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if len(raw) < envelopeHeaderSize {
		return Envelope{}, fmt.Errorf("%w: envelope truncated at %d bytes", cache.ErrIntegrityViolation, len(raw))
	}

	version := raw[0]
	if version != EnvelopeV0Plain && version != EnvelopeV1Sealed {
		return Envelope{}, fmt.Errorf("%w: unknown envelope version 0x%02x", cache.ErrIntegrityViolation, version)
	}

	sigLen := int(binary.LittleEndian.Uint16(raw[1:3]))
	if envelopeHeaderSize+sigLen > len(raw) {
		return Envelope{}, fmt.Errorf("%w: envelope signature length %d exceeds payload", cache.ErrIntegrityViolation, sigLen)
	}

	return Envelope{
		Version:   version,
		Signature: raw[envelopeHeaderSize : envelopeHeaderSize+sigLen],
		Body:      raw[envelopeHeaderSize+sigLen:],
	}, nil
}
