// Package transform implements the security-plugin boundary the
// Message Receiver calls through: decoding a wrapped RTPS message,
// validating a buffered secure submessage, and decoding the
// data(writer|reader) submessages security wraps individually.
package transform

import "github.com/katzenpost/rtpscore/guid"

// Transform is the capability a configured security plugin exposes.
// A Transform that cannot or need not protect a given message returns
// it unchanged.
type Transform interface {
	// DecodeRTPSMessage unwraps a SecureRTPSPrefix-delimited message,
	// returning the plaintext RTPS message bytes.
	DecodeRTPSMessage(wrapped []byte, sourceGuidPrefix guid.GuidPrefix) ([]byte, error)

	// PreprocessSecureSubmsg inspects a buffered (SecurePrefix,
	// Submessage, SecurePostfix) triple and classifies it before full
	// decode; implementations that do nothing special return
	// SecureKindUnknown.
	PreprocessSecureSubmsg(prefixBody, submsgBody, postfixBody []byte) (SecureKind, error)

	// DecodeDatawriterSubmessage decodes a Data or DataFrag submessage
	// that was wrapped for a specific writer.
	DecodeDatawriterSubmessage(body []byte, writerId guid.EntityId) ([]byte, error)

	// DecodeDatareaderSubmessage decodes an AckNack or NackFrag
	// submessage that was wrapped for a specific reader.
	DecodeDatareaderSubmessage(body []byte, readerId guid.EntityId) ([]byte, error)
}

// SecureKind classifies a preprocessed secure submessage triple.
type SecureKind int

const (
	SecureKindUnknown SecureKind = iota
	SecureKindInfo
	SecureKindDatawriter
	SecureKindDatareader
)

// Identity is a Transform that performs no protection: every method
// passes its input through unchanged. It is the default when no
// security plugin is configured.
type Identity struct{}

func (Identity) DecodeRTPSMessage(wrapped []byte, _ guid.GuidPrefix) ([]byte, error) {
	return wrapped, nil
}

func (Identity) PreprocessSecureSubmsg(_, _, _ []byte) (SecureKind, error) {
	return SecureKindUnknown, nil
}

func (Identity) DecodeDatawriterSubmessage(body []byte, _ guid.EntityId) ([]byte, error) {
	return body, nil
}

func (Identity) DecodeDatareaderSubmessage(body []byte, _ guid.EntityId) ([]byte, error) {
	return body, nil
}
