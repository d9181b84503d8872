package guid

import (
	"bytes"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/cloudflare/circl/xof/k12"
)

// InstanceKeyHash computes the 16-byte digest of a keyed topic's key
// fields by squeezing a KangarooTwelve XOF over the serialized key. A
// History Cache correlates a dispose/unregister CacheChange to its
// live instance by this digest, stored as the change's instance
// handle.
func InstanceKeyHash(keyFields []byte) [16]byte {
	var out [16]byte
	h := k12.NewDraft10(nil)
	h.Write(keyFields)
	h.Read(out[:])
	return out
}

// VerifyWriterIdentity checks an Ed25519 signature over message,
// built from raw scalar/point operations on edwards25519.Scalar and
// edwards25519.Point rather than crypto/ed25519's package-level
// Verify. A Reader Engine can run this when matching a Writer proxy
// as an authenticity check independent of, and in addition to, the
// full security-plugin transform.
func VerifyWriterIdentity(publicKey, message, signature []byte) (bool, error) {
	if len(publicKey) != 32 {
		return false, fmt.Errorf("guid: public key must be 32 bytes, got %d", len(publicKey))
	}
	if len(signature) != 64 {
		return false, fmt.Errorf("guid: signature must be 64 bytes, got %d", len(signature))
	}

	A, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return false, fmt.Errorf("guid: decoding public key: %w", err)
	}
	R, err := new(edwards25519.Point).SetBytes(signature[:32])
	if err != nil {
		return false, fmt.Errorf("guid: decoding signature R: %w", err)
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(signature[32:])
	if err != nil {
		return false, fmt.Errorf("guid: decoding signature S: %w", err)
	}

	h := sha512.New()
	h.Write(signature[:32])
	h.Write(publicKey)
	h.Write(message)
	k, err := new(edwards25519.Scalar).SetUniformBytes(h.Sum(nil))
	if err != nil {
		return false, fmt.Errorf("guid: reducing challenge scalar: %w", err)
	}

	sB := new(edwards25519.Point).ScalarBaseMult(s)
	kA := new(edwards25519.Point).ScalarMult(k, A)
	rhs := new(edwards25519.Point).Add(R, kA)

	return bytes.Equal(sB.Bytes(), rhs.Bytes()), nil
}
