package transform

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/katzenpost/rtpscore/guid"
)

const (
	keySize   = 32
	nonceSize = 24
)

// SecretBoxTransform is a concrete, non-identity Transform: every
// wrapped payload is a nonce followed by a NaCl secretbox, keyed by one
// of three keys (message, datawriter, datareader) derived via
// HKDF-SHA256 from a shared secret.
// It is a reference implementation — real deployments plug in
// whatever DDS Security or mixnet-style key-exchange plugin applies —
// but it exercises the same wrapping shape the wire format expects of
// any Transform.
type SecretBoxTransform struct {
	messageKey   *[keySize]byte
	datawriterKey *[keySize]byte
	datareaderKey *[keySize]byte
}

// NewSecretBoxTransform derives the three keys this transform needs
// (message, datawriter-submessage, datareader-submessage) from one
// shared secret via HKDF, each under a distinct info string so a
// break of one does not implicate the others.
func NewSecretBoxTransform(sharedSecret []byte, salt []byte) (*SecretBoxTransform, error) {
	deriveKey := func(info string) (*[keySize]byte, error) {
		kdf := hkdf.New(sha256.New, sharedSecret, salt, []byte(info))
		var key [keySize]byte
		if _, err := io.ReadFull(kdf, key[:]); err != nil {
			return nil, fmt.Errorf("transform: deriving %s key: %w", info, err)
		}
		return &key, nil
	}
	messageKey, err := deriveKey("rtpscore-message")
	if err != nil {
		return nil, err
	}
	datawriterKey, err := deriveKey("rtpscore-datawriter")
	if err != nil {
		return nil, err
	}
	datareaderKey, err := deriveKey("rtpscore-datareader")
	if err != nil {
		return nil, err
	}
	return &SecretBoxTransform{
		messageKey:    messageKey,
		datawriterKey: datawriterKey,
		datareaderKey: datareaderKey,
	}, nil
}

func seal(plaintext []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("transform: generating nonce: %w", err)
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, key)
	return append(nonce[:], ciphertext...), nil
}

func open(wrapped []byte, key *[keySize]byte) ([]byte, error) {
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("transform: wrapped payload shorter than nonce")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], wrapped[:nonceSize])
	plaintext, ok := secretbox.Open(nil, wrapped[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("transform: secretbox authentication failed")
	}
	return plaintext, nil
}

// Seal wraps an outgoing RTPS message for transmission.
func (t *SecretBoxTransform) Seal(plaintext []byte) ([]byte, error) {
	return seal(plaintext, t.messageKey)
}

func (t *SecretBoxTransform) DecodeRTPSMessage(wrapped []byte, _ guid.GuidPrefix) ([]byte, error) {
	return open(wrapped, t.messageKey)
}

func (t *SecretBoxTransform) PreprocessSecureSubmsg(prefixBody, submsgBody, _ []byte) (SecureKind, error) {
	if len(prefixBody) == 0 {
		return SecureKindUnknown, fmt.Errorf("transform: empty secure prefix")
	}
	switch prefixBody[0] {
	case 0x01:
		return SecureKindDatawriter, nil
	case 0x02:
		return SecureKindDatareader, nil
	default:
		return SecureKindInfo, nil
	}
}

func (t *SecretBoxTransform) DecodeDatawriterSubmessage(body []byte, _ guid.EntityId) ([]byte, error) {
	return open(body, t.datawriterKey)
}

func (t *SecretBoxTransform) DecodeDatareaderSubmessage(body []byte, _ guid.EntityId) ([]byte, error) {
	return open(body, t.datareaderKey)
}
