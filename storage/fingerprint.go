package storage

import (
	"context"

	"github.com/spaolacci/murmur3"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/owner"
)

// FingerprintSize is the digest width: a 96-bit truncation of a keyed
// 128-bit hash (spec §4.D).
const FingerprintSize = 12

// Fingerprint is an order-insensitive digest of a set of timestamps,
// combinable by XOR: fp(A∪B) = fp(A) ⊕ fp(B) (spec §4.D, property 4).
type Fingerprint [FingerprintSize]byte

// XOR combines two fingerprints in place semantics, returning the
// result; used to fold a sub-range's fingerprint into its parent's
// without a second table scan.
func (f Fingerprint) XOR(o Fingerprint) Fingerprint {
	var out Fingerprint
	for i := range out {
		out[i] = f[i] ^ o[i]
	}
	return out
}

// fingerprintSeed keys the hash so an adversary who doesn't know it
// cannot forge a fingerprint collision to hide a withheld message;
// it is fixed per build rather than per owner because fingerprints
// are only ever compared between two parties already engaged in a
// session over the same owner (spec §4.D only requires the digest be
// "cryptographically" collision-resistant between honest peers, not
// secret).
const fingerprintSeed uint32 = 0x65766f6c // "evol" packed into 32 bits

func hashTimestamp(ts hlc.Timestamp) Fingerprint {
	var tsb [hlc.Size]byte
	hlc.Encode(ts, tsb[:])
	hi, lo := murmur3.Sum128WithSeed(tsb[:], fingerprintSeed)
	var f Fingerprint
	for i := 0; i < 4; i++ {
		f[i] = byte(hi >> uint(8*(7-i)))
	}
	for i := 0; i < 8; i++ {
		f[4+i] = byte(lo >> uint(8*(7-i)))
	}
	return f
}

// Fingerprint computes the XOR-combined hash of every timestamp in r
// for id. It is O(n) in the range's size; package reconcile relies on
// this being cheap relative to transferring n full messages, which
// holds as long as ranges are kept small by splitting (spec §4.E).
func (s *Store) Fingerprint(ctx context.Context, id owner.ID, r krange.Range) (Fingerprint, error) {
	tss, err := s.IterateTimestamps(ctx, id, r, 0)
	if err != nil {
		return Fingerprint{}, err
	}
	var fp Fingerprint
	for _, ts := range tss {
		fp = fp.XOR(hashTimestamp(ts))
	}
	return fp, nil
}
