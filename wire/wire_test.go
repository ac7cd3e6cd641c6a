package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.PutU8(7)
	w.PutU16(1234)
	w.PutU32(987654)
	w.PutU64(1 << 40)
	w.PutVarBytes([]byte("hello"))

	r := NewReader(w.Bytes())
	u8, err := r.GetU8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)
	u16, err := r.GetU16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)
	u32, err := r.GetU32()
	require.NoError(t, err)
	require.EqualValues(t, 987654, u32)
	u64, err := r.GetU64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<40, u64)
	vb, err := r.GetVarBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), vb)
	require.Equal(t, 0, r.Remaining())
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.GetU32()
	require.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("a reconciliation frame")
	require.NoError(t, WriteFrame(&buf, payload))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPadUnpadRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(rt, "payload")
		padded, err := Pad(payload)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(padded), len(payload))
		got, err := Unpad(padded)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	})
}

func TestPadBound(t *testing.T) {
	// PADMÉ overhead is bounded relative to L; check a representative
	// spread of sizes rather than the full range for test speed.
	for l := 1; l <= 1<<20; l *= 2 {
		payload := bytes.Repeat([]byte{0x41}, l)
		padded, err := Pad(payload)
		require.NoError(t, err)
		n := len(padded)
		overhead := n - l
		require.GreaterOrEqual(t, overhead, footerSize)
		// overhead should never balloon past roughly L/8 plus the footer
		// for any power-of-two L in this range.
		require.LessOrEqual(t, overhead, l/8+footerSize+8)
	}
}
