package wire

import (
	"crypto/rand"
	"math/bits"

	"github.com/evolu-go/sync/synerr"
)

// paddedSize computes the PADMÉ target size for a payload of length l
// (spec §4.B): pad to the nearest multiple of a power of two sized
// relative to l's own magnitude, so only O(log log L) bits of the
// original length leak through the padded size.
func paddedSize(l uint32) uint32 {
	if l < 2 {
		return l
	}
	e := bits.Len32(l) - 1    // floor(log2(l)), l >= 2 so e >= 1
	s := bits.Len32(uint32(e)) // floor(log2(e)) + 1
	lastBits := e - s
	if lastBits < 0 {
		lastBits = 0
	}
	mask := uint32(1)<<uint(lastBits) - 1
	return (l + mask) &^ mask
}

// footerSize is the width of the trailing length footer that marks
// where the real payload ends inside the padded frame.
const footerSize = 4

// Pad wraps payload in a PADMÉ-padded frame: the payload, followed by
// random filler, followed by a 4-byte big-endian footer giving the
// original payload length. N (the total returned length) satisfies
// N >= L and the PADMÉ bound on (N-L).
func Pad(payload []byte) ([]byte, error) {
	l := uint32(len(payload))
	target := paddedSize(l + footerSize)
	if target < l+footerSize {
		target = l + footerSize
	}
	out := make([]byte, target)
	copy(out, payload)
	fillerLen := int(target) - len(payload) - footerSize
	if fillerLen > 0 {
		if _, err := rand.Read(out[len(payload) : len(payload)+fillerLen]); err != nil {
			return nil, &synerr.Protocol{Detail: "wire: padding rng failed"}
		}
	}
	w := NewWriter(footerSize)
	w.PutU32(l)
	copy(out[target-footerSize:], w.Bytes())
	return out, nil
}

// Unpad reverses Pad, returning the original payload.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < footerSize {
		return nil, &synerr.Protocol{Detail: "wire: padded frame too short"}
	}
	r := NewReader(padded[len(padded)-footerSize:])
	l, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	if int(l) > len(padded)-footerSize {
		return nil, &synerr.Protocol{Detail: "wire: invalid padding footer"}
	}
	return padded[:l], nil
}
