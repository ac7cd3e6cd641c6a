package protocol

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/storage"
)

// fakeSource is an in-memory reconcile.Source, mirroring package
// reconcile's own test fake, so this package's tests don't need a
// real database to exercise the session state machine.
type fakeSource struct {
	owner owner.ID
	items map[hlc.Timestamp][]byte
}

func newFakeSource(id owner.ID) *fakeSource {
	return &fakeSource{owner: id, items: map[hlc.Timestamp][]byte{}}
}

func (f *fakeSource) inRange(r krange.Range) []hlc.Timestamp {
	var out []hlc.Timestamp
	for ts := range f.items {
		if r.Contains(ts) {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (f *fakeSource) Size(ctx context.Context, r krange.Range) (int, error) {
	return len(f.inRange(r)), nil
}

func (f *fakeSource) Fingerprint(ctx context.Context, r krange.Range) (storage.Fingerprint, error) {
	var fp storage.Fingerprint
	for _, ts := range f.inRange(r) {
		var b [hlc.Size]byte
		hlc.Encode(ts, b[:])
		for i := range fp {
			fp[i] ^= b[i%hlc.Size]
		}
	}
	return fp, nil
}

func (f *fakeSource) Timestamps(ctx context.Context, r krange.Range) ([]hlc.Timestamp, error) {
	return f.inRange(r), nil
}

func (f *fakeSource) RankAt(ctx context.Context, r krange.Range, k int) (hlc.Timestamp, bool, error) {
	tss := f.inRange(r)
	if k < 0 || k >= len(tss) {
		return hlc.Timestamp{}, false, nil
	}
	return tss[k], true, nil
}

func (f *fakeSource) Changes(ctx context.Context, ts []hlc.Timestamp) ([]message.Message, error) {
	out := make([]message.Message, 0, len(ts))
	for _, t := range ts {
		out = append(out, message.Message{OwnerID: f.owner, Timestamp: t, Ciphertext: f.items[t]})
	}
	return out, nil
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func testClock(t *testing.T) *hlc.Clock {
	t.Helper()
	return hlc.NewClock(1, fixedNow(time.UnixMilli(1_000_000)), hlc.DefaultMaxDrift)
}

func mkID(b byte) owner.ID {
	var id owner.ID
	for i := range id {
		id[i] = b
	}
	return id
}

// drive runs a client/relay Session pair to completion, applying
// received messages directly into each side's fakeSource (acting as
// the storage+apply step an orchestrator would perform for real).
func drive(t *testing.T, client *Session, clientSrc *fakeSource, relay *Session, relaySrc *fakeSource, wk owner.WriteKey) {
	t.Helper()
	ctx := context.Background()
	applyTo := func(src *fakeSource) Apply {
		return func(ctx context.Context, msgs []reconcile.Message) error {
			for _, m := range msgs {
				src.items[m.Timestamp] = m.Ciphertext
			}
			return nil
		}
	}
	validateAlways := func(ctx context.Context, id owner.ID, got owner.WriteKey) (bool, error) {
		return got == wk, nil
	}

	initFrame, err := client.OpenInitiator(ctx, wk, nil)
	require.NoError(t, err)

	var frame Frame = initFrame
	for rounds := 0; rounds < 50; rounds++ {
		switch f := frame.(type) {
		case InitiatorFrame:
			reply, err := relay.HandleInitiator(ctx, f, validateAlways, applyTo(relaySrc))
			require.NoError(t, err)
			if ef, ok := reply.(ErrorFrame); ok {
				t.Fatalf("relay errored: %s", ef.Detail)
			}
			frame = reply
		case NonInitiatorFrame:
			if len(f.Ranges.Entries) == 0 {
				return
			}
			reply, err := client.HandleNonInitiator(ctx, f, applyTo(clientSrc))
			require.NoError(t, err)
			if ef, ok := reply.(ErrorFrame); ok {
				t.Fatalf("client errored: %s", ef.Detail)
			}
			if _, ok := reply.(NonInitiatorFrame); ok {
				return // client decided it's fully resolved too
			}
			frame = reply
		default:
			t.Fatalf("unexpected frame %T", f)
		}
	}
	t.Fatal("session did not converge within 50 rounds")
}

func setOf(items map[hlc.Timestamp][]byte) map[hlc.Timestamp]string {
	out := make(map[hlc.Timestamp]string, len(items))
	for k, v := range items {
		out[k] = string(v)
	}
	return out
}

func TestSessionFullRoundTripConverges(t *testing.T) {
	id := mkID(7)
	var wk owner.WriteKey
	wk[0] = 0xAB

	clientSrc := newFakeSource(id)
	clientSrc.items[hlc.Timestamp{Physical: 10, Counter: 0, NodeID: 1}] = []byte("a")
	clientSrc.items[hlc.Timestamp{Physical: 20, Counter: 0, NodeID: 1}] = []byte("b")
	relaySrc := newFakeSource(id)
	relaySrc.items[hlc.Timestamp{Physical: 15, Counter: 0, NodeID: 1}] = []byte("c")

	client := NewSession(RoleClient, id, testClock(t), clientSrc, reconcile.DefaultPolicy())
	relay := NewSession(RoleRelay, id, testClock(t), relaySrc, reconcile.DefaultPolicy())

	drive(t, client, clientSrc, relay, relaySrc, wk)

	require.Equal(t, setOf(clientSrc.items), setOf(relaySrc.items))
}

func TestHandleInitiatorRejectsBadWriteKey(t *testing.T) {
	ctx := context.Background()
	id := mkID(9)
	var wk, wrong owner.WriteKey
	wk[0] = 1
	wrong[0] = 2

	src := newFakeSource(id)
	relay := NewSession(RoleRelay, id, testClock(t), src, reconcile.DefaultPolicy())
	f := InitiatorFrame{Version: Version, OwnerID: id, WriteKey: wrong, Ranges: reconcile.RangeMessage{}}
	validate := func(ctx context.Context, id owner.ID, got owner.WriteKey) (bool, error) {
		return got == wk, nil
	}
	reply, err := relay.HandleInitiator(ctx, f, validate, func(context.Context, []reconcile.Message) error { return nil })
	require.NoError(t, err)
	ef, ok := reply.(ErrorFrame)
	require.True(t, ok)
	require.Equal(t, CodeWriteKeyInvalid, ef.Code)
	require.Equal(t, StateErrored, relay.State())
}

func TestHandleInitiatorRejectsBadVersion(t *testing.T) {
	ctx := context.Background()
	id := mkID(3)
	src := newFakeSource(id)
	relay := NewSession(RoleRelay, id, testClock(t), src, reconcile.DefaultPolicy())
	f := InitiatorFrame{Version: 0x02, OwnerID: id, Ranges: reconcile.RangeMessage{}}
	reply, err := relay.HandleInitiator(ctx, f, nil, nil)
	require.NoError(t, err)
	ef, ok := reply.(ErrorFrame)
	require.True(t, ok)
	require.Equal(t, CodeVersionUnsupported, ef.Code)
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	id := mkID(4)
	var wk owner.WriteKey
	wk[0] = 0xFE
	rm := reconcile.RangeMessage{Entries: []reconcile.Entry{
		{Range: krange.Full(), Kind: reconcile.KindSkip},
	}}
	f := InitiatorFrame{Version: Version, OwnerID: id, WriteKey: wk, Ranges: rm}
	b, err := Encode(f)
	require.NoError(t, err)
	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(InitiatorFrame)
	require.True(t, ok)
	require.Equal(t, f.OwnerID, got.OwnerID)
	require.Equal(t, f.WriteKey, got.WriteKey)
	require.Len(t, got.Ranges.Entries, 1)
	require.Equal(t, reconcile.KindSkip, got.Ranges.Entries[0].Kind)
}
