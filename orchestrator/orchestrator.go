// Package orchestrator drives one owner's sync lifecycle over a
// (reconnecting) transport (spec §4.G): it queues locally-produced
// messages, runs protocol.Session rounds until CLOSED or ERRORED,
// retries transient failures with backoff, bounds concurrent sessions
// with a semaphore, and exposes a disposable handle plus a status
// observable the application can watch.
//
// Grounded on the teacher's pullReplicationConfig/pullReplicationLaunch
// pair (grouppullreplication_GEN_.go): a config struct sized at
// construction time, a background goroutine launched once and torn
// down via a notify channel, and an explicit worker count. The bloom
// filter exchange itself is replaced end to end by package reconcile
// driven through package protocol; only the launch/shutdown shape is
// carried over.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/protocol"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/storage"
	"github.com/evolu-go/sync/synerr"
	"github.com/evolu-go/sync/transport"
)

// Config tunes one Orchestrator instance (spec §4.G, §5). Zero values
// are replaced by spec-stated defaults in New.
type Config struct {
	// SyncURL is the relay's transport endpoint (spec §6's
	// Configuration.syncUrl).
	SyncURL string
	// MaxConcurrentSessions bounds the outbound-session semaphore
	// (spec §5: "default 2").
	MaxConcurrentSessions int64
	// RoundTimeout bounds a single reconciliation round (spec §5:
	// "default 30s").
	RoundTimeout time.Duration
	// Backoff governs the retry delay after a transient session
	// failure (spec §4.G: "initial 100ms, factor 2, cap 10s, jitter
	// ±10%").
	Backoff BackoffPolicy
	Logger  *zap.Logger
}

// BackoffPolicy mirrors spec §4.G's exponential-backoff parameters.
type BackoffPolicy struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	JitterFrac float64
}

// DefaultBackoffPolicy matches spec §4.G's stated defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Initial: 100 * time.Millisecond, Factor: 2, Max: 10 * time.Second, JitterFrac: 0.10}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 2
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 30 * time.Second
	}
	if c.Backoff == (BackoffPolicy{}) {
		c.Backoff = DefaultBackoffPolicy()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

func (c Config) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.Backoff.Initial,
		RandomizationFactor: c.Backoff.JitterFrac,
		Multiplier:          c.Backoff.Factor,
		MaxInterval:         c.Backoff.Max,
		MaxElapsedTime:      0, // spec §5: "overall sync has no deadline"
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Status is one snapshot of spec §7's sync-status observable:
// "{state, error?, lastSyncedAt?}".
type Status struct {
	State        State
	Err          error
	LastSyncedAt time.Time
}

// State is the high-level lifecycle state exposed to the application
// (distinct from protocol.State, which is the wire-level session
// state machine one level down).
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	StateError   State = "error"
)

// Dialer opens a fresh transport connection to the relay; satisfied
// by transport.DialClient bound to a URL, injected so tests can
// substitute an in-process pair (spec §9: no component holds a
// concrete dependency it can instead take as a capability).
type Dialer func(ctx context.Context) (transport.Conn, error)

// Owner bundles the per-owner Orchestrator constructor arguments:
// identity, crypto material, and the Storage/HLC it drives.
type Owner struct {
	ID       owner.ID
	WriteKey owner.WriteKey
	Clock    *hlc.Clock
	Store    *storage.Store
	Dial     Dialer
}

// Handle is the disposable return value of Run: Dispose aborts any
// in-flight session and stops future retries; Status and Subscribe
// report lifecycle snapshots until the handle is disposed, matching
// spec §4.G/§7.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	status  Status
	subs    []chan Status
	pending []message.Message
}

// Status returns the most recently observed status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Subscribe returns a channel that first receives the current Status
// and then each subsequent Status transition; a transition is dropped
// for a subscriber whose 8-slot buffer is full. The channel is closed
// when the handle is disposed.
func (h *Handle) Subscribe() <-chan Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Status, 8)
	ch <- h.status
	h.subs = append(h.subs, ch)
	return ch
}

func (h *Handle) set(s Status) {
	h.mu.Lock()
	h.status = s
	subs := append([]chan Status(nil), h.subs...)
	h.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Dispose aborts the active session (if any) and stops retrying. It
// blocks until the background goroutine has exited (spec §4.G/§5:
// "disposal aborts active sessions and releases permits").
func (h *Handle) Dispose() {
	h.cancel()
	<-h.done
	h.mu.Lock()
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	h.mu.Unlock()
}

// Enqueue queues a locally-produced message for inclusion in the next
// Initiator frame (spec §4.G: "Queue locally-produced messages;
// include them in the next Initiator frame").
func (h *Handle) Enqueue(m message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, m)
}

// Orchestrator manages sync sessions for a set of owners, each
// serialized by its own mutex and bounded by a shared semaphore (spec
// §4.G/§5: "at most one active reconciliation session" per owner,
// "a semaphore bounds concurrent outbound sessions").
type Orchestrator struct {
	cfg  Config
	sem  *semaphore.Weighted
	log  *zap.Logger

	mu     sync.Mutex
	owners map[owner.ID]*ownerState
}

type ownerState struct {
	mu sync.Mutex // held for a whole session, so one owner runs at most one session at a time; Handle.Enqueue and direct Store writes do not take it
}

// New constructs an Orchestrator; cfg's zero fields take spec-stated
// defaults.
func New(cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		log:    cfg.Logger,
		owners: make(map[owner.ID]*ownerState),
	}
}

// Run launches the background sync loop for one owner and returns its
// disposable Handle (spec §4.G). The loop dials, runs client-side
// protocol sessions to completion, applies received messages to
// Store, and retries with backoff on transient failure until Dispose
// is called.
func (o *Orchestrator) Run(ctx context.Context, ow Owner) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	h.set(Status{State: StateIdle})

	o.mu.Lock()
	st, ok := o.owners[ow.ID]
	if !ok {
		st = &ownerState{}
		o.owners[ow.ID] = st
	}
	o.mu.Unlock()

	go func() {
		defer close(h.done)
		o.loop(ctx, ow, st, h)
	}()
	return h
}

func (o *Orchestrator) loop(ctx context.Context, ow Owner, st *ownerState, h *Handle) {
	bo := o.cfg.newBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		err := o.runOneSession(ctx, ow, st, h)
		o.sem.Release(1)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			bo.Reset()
			h.set(Status{State: StateSynced, LastSyncedAt: time.Now()})
			continue
		}
		h.set(Status{State: StateError, Err: err})
		if !synerr.Recoverable(err) {
			o.log.Error("sync session terminated non-recoverably", zap.Error(err), zap.Binary("owner", ow.ID[:]))
			return
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		o.log.Warn("sync session failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// runOneSession dials, opens a client Session, and drives it to
// completion against ow.Store. It takes st's mutex for the full
// session, so two sessions for the same owner never apply remote
// messages concurrently; local writes are not serialized through it.
func (o *Orchestrator) runOneSession(ctx context.Context, ow Owner, st *ownerState, h *Handle) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	h.set(Status{State: StateSyncing})

	conn, err := ow.Dial(ctx)
	if err != nil {
		return &synerr.Transport{Cause: err}
	}
	defer conn.Close()

	src := reconcile.StorageSource{Store: ow.Store, Owner: ow.ID}
	policy := reconcile.DefaultPolicy()
	sess := protocol.NewSession(protocol.RoleClient, ow.ID, ow.Clock, src, policy)

	apply := func(ctx context.Context, msgs []reconcile.Message) error {
		enc := make([]storage.Encoded, len(msgs))
		for i, m := range msgs {
			enc[i] = storage.Encoded{Timestamp: m.Timestamp, Ciphertext: m.Ciphertext}
		}
		return ow.Store.WriteMessages(ctx, ow.ID, enc)
	}

	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	roundCtx, cancel := context.WithTimeout(ctx, o.cfg.RoundTimeout)
	frame, err := sess.OpenInitiator(roundCtx, ow.WriteKey, pending)
	cancel()
	if err != nil {
		return err
	}

	for {
		if err := sendFrame(ctx, conn, o.cfg.RoundTimeout, protocol.Frame(frame)); err != nil {
			return err
		}
		reply, err := recvFrame(ctx, conn, o.cfg.RoundTimeout)
		if err != nil {
			return err
		}
		switch f := reply.(type) {
		case protocol.ErrorFrame:
			return sess.HandleError(f)
		case protocol.NonInitiatorFrame:
			roundCtx, cancel := context.WithTimeout(ctx, o.cfg.RoundTimeout)
			next, err := sess.HandleNonInitiator(roundCtx, f, apply)
			cancel()
			if err != nil {
				return err
			}
			if sess.State() == protocol.StateClosed {
				return nil
			}
			if sess.State() == protocol.StateErrored {
				return sess.Err()
			}
			frame = next.(protocol.InitiatorFrame)
		default:
			return &synerr.Protocol{Detail: "orchestrator: unexpected frame from relay"}
		}
	}
}

func sendFrame(ctx context.Context, conn transport.Conn, timeout time.Duration, f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Send(sctx, b)
}

func recvFrame(ctx context.Context, conn transport.Conn, timeout time.Duration) (protocol.Frame, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := conn.Receive(rctx)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(b)
}

// RunAll launches Run for every owner in owners and returns at once
// with a function that disposes every launched handle — a convenience
// for multi-owner clients that want one lifetime for a whole replica
// (spec §4.G: "manage one logical sync per owner").
func RunAll(ctx context.Context, o *Orchestrator, owners []Owner) func() {
	handles := make([]*Handle, len(owners))
	g, gctx := errgroup.WithContext(ctx)
	for i, ow := range owners {
		i, ow := i, ow
		g.Go(func() error {
			handles[i] = o.Run(gctx, ow)
			return nil
		})
	}
	_ = g.Wait()
	return func() {
		for _, h := range handles {
			if h != nil {
				h.Dispose()
			}
		}
	}
}
