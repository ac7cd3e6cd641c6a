package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/protocol"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/storage"
	"github.com/evolu-go/sync/transport"
)

// chanConn is a Conn backed by a pair of channels, standing in for a
// real transport.Conn in tests (spec §9: protocol/orchestrator only
// need the narrow Conn capability, not a concrete WebSocket).
type chanConn struct {
	out chan<- []byte
	in  <-chan []byte
}

func (c *chanConn) Send(ctx context.Context, payload []byte) error {
	cp := append([]byte(nil), payload...)
	select {
	case c.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return nil, context.Canceled
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *chanConn) Close() error { return nil }

// pipe returns two connected chanConns: what one sends, the other
// receives.
func pipe() (transport.Conn, transport.Conn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &chanConn{out: ab, in: ba}, &chanConn{out: ba, in: ab}
}

// runRelay drives a single relay-side Session over conn against store
// until the session closes or errors, mirroring what a real relay
// endpoint (spec §6) does frame by frame.
func runRelay(t *testing.T, conn transport.Conn, id owner.ID, wk owner.WriteKey, store *storage.Store) {
	t.Helper()
	ctx := context.Background()
	clock := hlc.NewClock(99, func() time.Time { return time.UnixMilli(1_000_000) }, hlc.DefaultMaxDrift)
	src := reconcile.StorageSource{Store: store, Owner: id}
	sess := protocol.NewSession(protocol.RoleRelay, id, clock, src, reconcile.DefaultPolicy())
	validate := func(ctx context.Context, gotID owner.ID, got owner.WriteKey) (bool, error) {
		return got == wk, nil
	}
	apply := func(ctx context.Context, msgs []reconcile.Message) error {
		enc := make([]storage.Encoded, len(msgs))
		for i, m := range msgs {
			enc[i] = storage.Encoded{Timestamp: m.Timestamp, Ciphertext: m.Ciphertext}
		}
		return store.WriteMessages(ctx, id, enc)
	}

	for {
		b, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		f, err := protocol.Decode(b)
		if err != nil {
			return
		}
		initF, ok := f.(protocol.InitiatorFrame)
		if !ok {
			return
		}
		reply, err := sess.HandleInitiator(ctx, initF, validate, apply)
		require.NoError(t, err)
		rb, err := protocol.Encode(reply)
		require.NoError(t, err)
		require.NoError(t, conn.Send(ctx, rb))
		if sess.State() == protocol.StateClosed || sess.State() == protocol.StateErrored {
			return
		}
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOrchestratorOneWayCatchUp(t *testing.T) {
	clientConn, relayConn := pipe()
	id, err := owner.RandomID()
	require.NoError(t, err)
	var wk owner.WriteKey
	wk[3] = 0x42

	clientStore := openStore(t)
	relayStore := openStore(t)

	ctx := context.Background()
	clock := hlc.NewClock(1, func() time.Time { return time.UnixMilli(2_000_000) }, hlc.DefaultMaxDrift)

	// Seed the client with two locally-produced messages before sync.
	var pending []message.Message
	for i := 0; i < 2; i++ {
		ts, err := clock.Send()
		require.NoError(t, err)
		m := message.Message{OwnerID: id, Timestamp: ts, Ciphertext: []byte{byte(i)}}
		require.NoError(t, clientStore.WriteMessages(ctx, id, []storage.Encoded{{Timestamp: ts, Ciphertext: m.Ciphertext}}))
		pending = append(pending, m)
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		runRelay(t, relayConn, id, wk, relayStore)
	}()

	o := New(Config{RoundTimeout: 5 * time.Second})
	h := o.Run(ctx, Owner{
		ID:       id,
		WriteKey: wk,
		Clock:    clock,
		Store:    clientStore,
		Dial:     func(ctx context.Context) (transport.Conn, error) { return clientConn, nil },
	})
	h.Enqueue(pending[0])
	h.Enqueue(pending[1])

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("sync did not reach synced state in time")
		default:
		}
		if h.Status().State == StateSynced {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.Dispose()
	<-relayDone

	n, err := relayStore.GetSize(ctx, id, krange.Full())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
