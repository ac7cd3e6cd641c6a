// Package krange defines the half-open timestamp interval shared by
// Storage's range queries and the Reconciliation algorithm (spec
// §4.D, §4.E).
package krange

import "github.com/evolu-go/sync/hlc"

// Range is the half-open interval [Lo, Hi) over the HLC key space.
type Range struct {
	Lo hlc.Timestamp
	Hi hlc.Timestamp
}

// Full spans the entire representable key space. Its Hi bound is
// hlc.Max itself rather than one-past-Max: hlc.Timestamp's fields are
// fixed-width (48/16/48 bits), so "one past the maximum" has no
// representation an hlc.Encode round-trip preserves — bumping past
// hlc.Max would silently wrap the physical-millis field back to zero,
// making the encoded bound compare less than every real timestamp.
// The cost is that Full() excludes the single timestamp exactly equal
// to hlc.Max, a value no real Clock.Send ever produces (physical
// millis 2^48-1 is year 10889).
func Full() Range { return Range{Lo: hlc.Zero, Hi: Bump(hlc.Max)} }

// Bump returns the smallest timestamp strictly greater than t, or t
// itself if t is already hlc.Max (saturating rather than wrapping, so
// callers never get back a bound that encodes smaller than t). Used
// by Full and by callers building a singleton [t, t') range, e.g. for
// a one-message reconciliation entry.
func Bump(t hlc.Timestamp) hlc.Timestamp {
	if t.Compare(hlc.Max) >= 0 {
		return hlc.Max
	}
	if t.NodeID < hlc.Max.NodeID {
		return hlc.Timestamp{Physical: t.Physical, Counter: t.Counter, NodeID: t.NodeID + 1}
	}
	if t.Counter < 0xFFFF {
		return hlc.Timestamp{Physical: t.Physical, Counter: t.Counter + 1, NodeID: 0}
	}
	return hlc.Timestamp{Physical: t.Physical + 1, Counter: 0, NodeID: 0}
}

// Contains reports whether t falls within [r.Lo, r.Hi).
func (r Range) Contains(t hlc.Timestamp) bool {
	return !t.Less(r.Lo) && t.Less(r.Hi)
}

// Empty reports whether the range contains no timestamps.
func (r Range) Empty() bool { return !r.Lo.Less(r.Hi) }

// Mid returns the midpoint of Lo and Hi's physical millis with a zero
// counter and node ID, a split point that needs no rank information.
// It lies strictly between Lo and Hi only when Hi.Physical-Lo.Physical
// is at least 2; otherwise it is at or below Lo. Splitting in package
// reconcile uses Source.RankAt on the median rank instead (spec §4.E).
func (r Range) Mid() hlc.Timestamp {
	return hlc.Timestamp{
		Physical: r.Lo.Physical + (r.Hi.Physical-r.Lo.Physical)/2,
		Counter:  0,
		NodeID:   0,
	}
}
