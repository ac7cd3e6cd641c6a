package xcrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, 32))
	ad := []byte("owner-id||timestamp")
	plain := []byte("a serialized change")

	ct, err := Seal(key, ad, plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, ct)

	got, err := Open(key, ad, ct)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x22}, 32))
	ad := []byte("ad")
	ct, err := Seal(key, ad, []byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF
	_, err = Open(key, ad, ct)
	require.Error(t, err)
}

func TestOpenRejectsWrongAssociatedData(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x33}, 32))
	ct, err := Seal(key, []byte("ad-1"), []byte("payload"))
	require.NoError(t, err)
	_, err = Open(key, []byte("ad-2"), ct)
	require.Error(t, err)
}

func TestWriteKeyEqual(t *testing.T) {
	var a, b [16]byte
	copy(a[:], bytes.Repeat([]byte{0x01}, 16))
	b = a
	require.True(t, WriteKeyEqual(a, b))
	b[15] ^= 1
	require.False(t, WriteKeyEqual(a, b))
}
