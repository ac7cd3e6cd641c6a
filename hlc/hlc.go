// Package hlc implements the hybrid logical clock used to timestamp
// every row-column mutation (spec §3, §4.A). A Timestamp is a
// (physicalMillis, counter, nodeID) triple, fixed-width binary
// encoded so lexicographic byte order equals timestamp order.
package hlc

import (
	"encoding/binary"
	"time"

	"github.com/evolu-go/sync/synerr"
)

// Size is the fixed binary encoding length of a Timestamp: 6 bytes of
// physical milliseconds, 2 bytes of counter, 6 bytes of node ID, then 2
// zero bytes.
const Size = 16

const (
	maxPhysical = 1<<48 - 1
	maxCounter  = 1<<16 - 1
	maxNode     = 1<<48 - 1
)

// DefaultMaxDrift is the default clock-drift budget (spec §3: 5min).
const DefaultMaxDrift = 5 * time.Minute

// Timestamp is an immutable HLC value.
type Timestamp struct {
	Physical int64 // unix millis, 48 bits
	Counter  uint16
	NodeID   uint64 // 48 bits
}

// Compare returns -1, 0 or 1 per the total lexicographic order over
// (Physical, Counter, NodeID) — equivalent to memcmp on Encode output.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Physical < o.Physical:
		return -1
	case t.Physical > o.Physical:
		return 1
	}
	switch {
	case t.Counter < o.Counter:
		return -1
	case t.Counter > o.Counter:
		return 1
	}
	switch {
	case t.NodeID < o.NodeID:
		return -1
	case t.NodeID > o.NodeID:
		return 1
	}
	return 0
}

// Less reports whether t sorts strictly before o.
func (t Timestamp) Less(o Timestamp) bool { return t.Compare(o) < 0 }

// Zero is the minimum representable Timestamp, used as an open range
// bound by callers of storage/reconcile.
var Zero = Timestamp{}

// Max is the maximum representable Timestamp.
var Max = Timestamp{Physical: maxPhysical, Counter: maxCounter, NodeID: maxNode}

// Encode writes the fixed 16-byte big-endian form of t into b, which
// must be at least Size bytes long.
func Encode(t Timestamp, b []byte) {
	_ = b[Size-1]
	var phys [8]byte
	binary.BigEndian.PutUint64(phys[:], uint64(t.Physical))
	copy(b[0:6], phys[2:8])
	binary.BigEndian.PutUint16(b[6:8], t.Counter)
	var node [8]byte
	binary.BigEndian.PutUint64(node[:], t.NodeID)
	copy(b[8:16], node[2:8])
	b[14], b[15] = 0, 0
}

// EncodeBytes is a convenience allocating form of Encode.
func EncodeBytes(t Timestamp) []byte {
	b := make([]byte, Size)
	Encode(t, b)
	return b
}

// Decode parses the fixed 16-byte big-endian form produced by Encode.
func Decode(b []byte) (Timestamp, error) {
	if len(b) != Size {
		return Timestamp{}, &synerr.Protocol{Detail: "hlc: invalid timestamp length"}
	}
	var phys [8]byte
	copy(phys[2:8], b[0:6])
	var node [8]byte
	copy(node[2:8], b[8:16])
	return Timestamp{
		Physical: int64(binary.BigEndian.Uint64(phys[:])),
		Counter:  binary.BigEndian.Uint16(b[6:8]),
		NodeID:   binary.BigEndian.Uint64(node[:]),
	}, nil
}

// Clock is the mutable per-device HLC state. It is not safe for
// concurrent use without external synchronization; the orchestrator
// serializes access through the same per-owner mutex that serializes
// storage writes (spec §5).
type Clock struct {
	now      func() time.Time
	nodeID   uint64
	maxDrift time.Duration

	physical int64
	counter  uint16
}

// NewClock builds a Clock for the given node ID. now is injected so
// tests can control wall time deterministically (spec §9: no global
// mutable clock). maxDrift <= 0 selects DefaultMaxDrift.
func NewClock(nodeID uint64, now func() time.Time, maxDrift time.Duration) *Clock {
	if now == nil {
		now = time.Now
	}
	if maxDrift <= 0 {
		maxDrift = DefaultMaxDrift
	}
	return &Clock{now: now, nodeID: nodeID & maxNode, maxDrift: maxDrift}
}

// Send returns a new Timestamp strictly greater than any previously
// produced by this Clock (spec §4.A).
func (c *Clock) Send() (Timestamp, error) {
	wall := c.now().UnixMilli()
	physical := c.physical
	if wall > physical {
		physical = wall
	}
	if err := driftCheck(physical, wall, c.maxDrift); err != nil {
		return Timestamp{}, err
	}
	counter := uint16(0)
	if physical == c.physical {
		if c.counter == maxCounter {
			return Timestamp{}, synerr.ErrCounterOverflow
		}
		counter = c.counter + 1
	}
	c.physical = physical
	c.counter = counter
	return Timestamp{Physical: physical, Counter: counter, NodeID: c.nodeID}, nil
}

// Receive merges a remote Timestamp into the local clock, advancing it
// to the causal max (spec §4.A). The returned Timestamp is the new
// local clock value, not necessarily usable for a local Send call
// without a further Send.
func (c *Clock) Receive(remote Timestamp) (Timestamp, error) {
	wall := c.now().UnixMilli()
	physical := c.physical
	if remote.Physical > physical {
		physical = remote.Physical
	}
	if wall > physical {
		physical = wall
	}
	if err := driftCheck(physical, wall, c.maxDrift); err != nil {
		return Timestamp{}, err
	}
	var base uint16
	var advanced bool
	switch {
	case physical == c.physical && physical == remote.Physical:
		base = max16(c.counter, remote.Counter)
	case physical == c.physical:
		base = c.counter
	case physical == remote.Physical:
		base = remote.Counter
	default:
		advanced = true
	}
	var counter uint16
	if advanced {
		counter = 0
	} else {
		if base == maxCounter {
			return Timestamp{}, synerr.ErrCounterOverflow
		}
		counter = base + 1
	}
	c.physical = physical
	c.counter = counter
	return Timestamp{Physical: physical, Counter: counter, NodeID: c.nodeID}, nil
}

func driftCheck(physical, wall int64, maxDrift time.Duration) error {
	drift := physical - wall
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDrift.Milliseconds() {
		return &synerr.ClockDrift{DriftMillis: drift}
	}
	return nil
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
