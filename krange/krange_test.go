package krange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evolu-go/sync/hlc"
)

func TestFullHiEncodesGreaterThanEveryRealTimestamp(t *testing.T) {
	full := Full()

	var hi [hlc.Size]byte
	hlc.Encode(full.Hi, hi[:])
	require.NotEqual(t, [hlc.Size]byte{}, hi, "Full().Hi must not encode to the all-zero sentinel")

	for _, got := range []hlc.Timestamp{
		{Physical: 1, Counter: 0, NodeID: 1},
		{Physical: 1 << 40, Counter: 0xFFFF, NodeID: 1 << 40},
	} {
		require.True(t, full.Contains(got), "Full() must contain %+v", got)
	}
}

func TestFullLoIsZero(t *testing.T) {
	require.Equal(t, hlc.Zero, Full().Lo)
}
