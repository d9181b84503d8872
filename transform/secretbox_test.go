package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretBoxTransformRoundTrip(t *testing.T) {
	tr, err := NewSecretBoxTransform([]byte("shared secret material"), []byte("salt"))
	require.NoError(t, err)

	plaintext := []byte("hello rtps")
	wrapped, err := tr.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, wrapped)

	decoded, err := tr.DecodeRTPSMessage(wrapped, [12]byte{})
	require.NoError(t, err)
	require.Equal(t, plaintext, decoded)
}

func TestSecretBoxTransformRejectsTamperedCiphertext(t *testing.T) {
	tr, err := NewSecretBoxTransform([]byte("shared secret material"), []byte("salt"))
	require.NoError(t, err)

	wrapped, err := tr.Seal([]byte("hello"))
	require.NoError(t, err)
	wrapped[len(wrapped)-1] ^= 0xff

	_, err = tr.DecodeRTPSMessage(wrapped, [12]byte{})
	require.Error(t, err)
}

func TestIdentityTransformIsPassthrough(t *testing.T) {
	var id Identity
	body := []byte("unchanged")
	out, err := id.DecodeDatawriterSubmessage(body, [4]byte{})
	require.NoError(t, err)
	require.Equal(t, body, out)
}
