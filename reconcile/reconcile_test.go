package reconcile

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/storage"
)

// memSource is a plain in-memory Source, used so these tests exercise
// the split/compare algorithm itself without a database.
type memSource struct {
	items map[hlc.Timestamp][]byte
}

func newMemSource() *memSource { return &memSource{items: map[hlc.Timestamp][]byte{}} }

func (m *memSource) put(ts hlc.Timestamp, ct string) { m.items[ts] = []byte(ct) }

func (m *memSource) inRange(r krange.Range) []hlc.Timestamp {
	var out []hlc.Timestamp
	for ts := range m.items {
		if r.Contains(ts) {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (m *memSource) Size(ctx context.Context, r krange.Range) (int, error) {
	return len(m.inRange(r)), nil
}

func (m *memSource) Fingerprint(ctx context.Context, r krange.Range) (storage.Fingerprint, error) {
	var fp storage.Fingerprint
	for _, ts := range m.inRange(r) {
		var b [hlc.Size]byte
		hlc.Encode(ts, b[:])
		for i := range fp {
			fp[i] ^= b[i%hlc.Size]
		}
	}
	return fp, nil
}

func (m *memSource) Timestamps(ctx context.Context, r krange.Range) ([]hlc.Timestamp, error) {
	return m.inRange(r), nil
}

func (m *memSource) RankAt(ctx context.Context, r krange.Range, k int) (hlc.Timestamp, bool, error) {
	tss := m.inRange(r)
	if k < 0 || k >= len(tss) {
		return hlc.Timestamp{}, false, nil
	}
	return tss[k], true, nil
}

func (m *memSource) Changes(ctx context.Context, ts []hlc.Timestamp) ([]message.Message, error) {
	out := make([]message.Message, 0, len(ts))
	for _, t := range ts {
		out = append(out, message.Message{Timestamp: t, Ciphertext: m.items[t]})
	}
	return out, nil
}

func mkts(physical int64, counter uint16) hlc.Timestamp {
	return hlc.Timestamp{Physical: physical, Counter: counter, NodeID: 1}
}

func TestBuildInitialEmptyIsSkip(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	rm, err := BuildInitial(ctx, src, krange.Full(), DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, rm.Entries, 1)
	require.Equal(t, KindSkip, rm.Entries[0].Kind)
}

func TestBuildInitialSmallIsList(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	src.put(mkts(1, 0), "a")
	src.put(mkts(2, 0), "b")
	rm, err := BuildInitial(ctx, src, krange.Full(), DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, rm.Entries, 1)
	require.Equal(t, KindList, rm.Entries[0].Kind)
	require.Len(t, rm.Entries[0].Timestamps, 2)
}

func TestBuildInitialLargeIsFingerprint(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	policy := Policy{ListThreshold: 2, MaxItems: 500}
	src.put(mkts(1, 0), "a")
	src.put(mkts(2, 0), "b")
	src.put(mkts(3, 0), "c")
	rm, err := BuildInitial(ctx, src, krange.Full(), policy)
	require.NoError(t, err)
	require.Equal(t, KindFingerprint, rm.Entries[0].Kind)
}

// sync drives reconciliation between two in-memory sources to a fixed
// point, returning the number of rounds it took. Mirrors how package
// protocol's session loop would drive two real endpoints over a wire.
func sync(t *testing.T, a, b *memSource, policy Policy) int {
	t.Helper()
	ctx := context.Background()
	msgAtoB, err := BuildInitial(ctx, a, krange.Full(), policy)
	require.NoError(t, err)

	rounds := 0
	for rounds < 50 {
		rounds++
		replyFromB, appliedAtB, err := Step(ctx, b, msgAtoB, policy)
		require.NoError(t, err)
		for _, m := range appliedAtB {
			b.put(m.Timestamp, string(m.Ciphertext))
		}
		if len(replyFromB.Entries) == 0 {
			return rounds
		}
		replyFromA, appliedAtA, err := Step(ctx, a, replyFromB, policy)
		require.NoError(t, err)
		for _, m := range appliedAtA {
			a.put(m.Timestamp, string(m.Ciphertext))
		}
		if len(replyFromA.Entries) == 0 {
			return rounds
		}
		msgAtoB = replyFromA
	}
	t.Fatalf("reconciliation did not converge within %d rounds", rounds)
	return rounds
}

func setOf(m *memSource) map[hlc.Timestamp]string {
	out := map[hlc.Timestamp]string{}
	for ts, ct := range m.items {
		out[ts] = string(ct)
	}
	return out
}

func TestReconcileOneWayCatchUp(t *testing.T) {
	a := newMemSource()
	a.put(mkts(10, 0), "a")
	a.put(mkts(20, 0), "b")
	a.put(mkts(30, 0), "c")
	b := newMemSource()

	sync(t, a, b, DefaultPolicy())
	require.Equal(t, setOf(a), setOf(b))
}

func TestReconcileTwoWayDisjoint(t *testing.T) {
	a := newMemSource()
	a.put(mkts(10, 0), "a1")
	a.put(mkts(20, 0), "a2")
	b := newMemSource()
	b.put(mkts(15, 0), "b1")
	b.put(mkts(25, 0), "b2")

	sync(t, a, b, DefaultPolicy())
	require.Equal(t, setOf(a), setOf(b))
	require.Len(t, setOf(a), 4)
}

func TestReconcileLargeRangeSplits(t *testing.T) {
	a := newMemSource()
	b := newMemSource()
	policy := Policy{ListThreshold: 4, MaxItems: 500}
	for i := int64(0); i < 40; i++ {
		a.put(mkts(i, 0), "x")
	}
	// b has half of a's items plus some unique ones of its own.
	for i := int64(0); i < 40; i += 2 {
		b.put(mkts(i, 0), "x")
	}
	for i := int64(1000); i < 1005; i++ {
		b.put(mkts(i, 0), "y")
	}

	sync(t, a, b, policy)
	require.Equal(t, setOf(a), setOf(b))
}

func TestReconcileIdenticalSetsResolveImmediately(t *testing.T) {
	a := newMemSource()
	b := newMemSource()
	for i := int64(0); i < 10; i++ {
		a.put(mkts(i, 0), "x")
		b.put(mkts(i, 0), "x")
	}
	rounds := sync(t, a, b, DefaultPolicy())
	require.Equal(t, 1, rounds)
}

func TestStepRejectsUnorderedTimestampsList(t *testing.T) {
	ctx := context.Background()
	src := newMemSource()
	bad := RangeMessage{Entries: []Entry{{
		Range:      krange.Full(),
		Kind:       KindList,
		Timestamps: []hlc.Timestamp{mkts(5, 0), mkts(3, 0)},
	}}}
	_, _, err := Step(ctx, src, bad, DefaultPolicy())
	require.Error(t, err)
}
