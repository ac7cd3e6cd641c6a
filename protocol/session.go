package protocol

import (
	"context"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/synerr"
)

// State is one of the four nodes in spec §4.F's session diagram.
type State uint8

const (
	StateOpening State = iota
	StateSyncing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateSyncing:
		return "SYNCING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which end of the session this process is
// driving; the reconciliation math (reconcile.Step) is identical on
// both sides, only who validates the write key and who moves first
// differs.
type Role uint8

const (
	RoleClient Role = iota
	RoleRelay
)

// ValidateWriteKey is the capability a relay-side Session uses to
// authorize an Initiator frame; storage.Store.ValidateWriteKey
// satisfies it directly.
type ValidateWriteKey func(ctx context.Context, id owner.ID, wk owner.WriteKey) (bool, error)

// Apply persists newly-received messages for the session's owner;
// storage.Store.WriteMessages (wrapped to accept reconcile.Message)
// satisfies it.
type Apply func(ctx context.Context, msgs []reconcile.Message) error

// Session drives one owner's reconciliation over a single logical
// connection, per spec §4.F's state diagram. It holds no transport:
// callers feed it decoded frames and receive frames to send back,
// so it is directly unit-testable (see session_test.go) and reusable
// by both the in-process loopback used there and the real
// transport-backed orchestrator.
type Session struct {
	role     Role
	ownerID  owner.ID
	writeKey owner.WriteKey
	clock    *hlc.Clock
	src      reconcile.Source
	policy   reconcile.Policy
	state    State
	err      error
}

// NewSession constructs a Session in the OPENING state.
func NewSession(role Role, ownerID owner.ID, clock *hlc.Clock, src reconcile.Source, policy reconcile.Policy) *Session {
	return &Session{role: role, ownerID: ownerID, clock: clock, src: src, policy: policy, state: StateOpening}
}

func (s *Session) State() State { return s.state }
func (s *Session) Err() error   { return s.err }

func (s *Session) fail(err error) Frame {
	s.state = StateErrored
	s.err = err
	return errorFrame(err)
}

func errorFrame(err error) ErrorFrame {
	code := CodeUnknown
	switch {
	case err == synerr.ErrWriteKeyInvalid:
		code = CodeWriteKeyInvalid
	case isVersionUnsupported(err):
		code = CodeVersionUnsupported
	case isClockDrift(err):
		code = CodeClockDrift
	case synerr.Recoverable(err):
		code = CodeTransport
	case err == synerr.ErrCancelled:
		code = CodeCancelled
	default:
		code = CodeProtocol
	}
	return ErrorFrame{Version: Version, Code: code, Detail: err.Error()}
}

func isVersionUnsupported(err error) bool {
	_, ok := err.(*synerr.VersionUnsupported)
	return ok
}

func isClockDrift(err error) bool {
	_, ok := err.(*synerr.ClockDrift)
	return ok
}

// OpenInitiator builds the client's first Initiator frame: a top-level
// description of its current set for the owner, plus its own pending
// local writes folded in as singleton TimestampsListWithChanges
// entries (spec §4.F step 1).
func (s *Session) OpenInitiator(ctx context.Context, wk owner.WriteKey, pending []message.Message) (InitiatorFrame, error) {
	if s.role != RoleClient {
		return InitiatorFrame{}, &synerr.Protocol{Detail: "protocol: OpenInitiator called on a relay-role session"}
	}
	s.writeKey = wk
	rm, err := reconcile.BuildInitial(ctx, s.src, krange.Full(), s.policy)
	if err != nil {
		s.state = StateErrored
		s.err = err
		return InitiatorFrame{}, err
	}
	for _, m := range pending {
		rm.Entries = append(rm.Entries, pendingEntry(m))
	}
	s.state = StateSyncing
	return InitiatorFrame{Version: Version, OwnerID: s.ownerID, WriteKey: wk, Ranges: rm}, nil
}

func pendingEntry(m message.Message) reconcile.Entry {
	return reconcile.Entry{
		Range:    krange.Range{Lo: m.Timestamp, Hi: krange.Bump(m.Timestamp)},
		Kind:     reconcile.KindListWithChanges,
		Messages: []message.Message{m},
	}
}

// HandleInitiator is the relay side of spec §4.F step 2: validate
// version and write key, persist any attached changes, reconcile the
// received ranges, and produce a NonInitiator reply (or an Error
// frame, moving the session to ERRORED).
func (s *Session) HandleInitiator(ctx context.Context, f InitiatorFrame, validate ValidateWriteKey, apply Apply) (Frame, error) {
	if s.role != RoleRelay {
		return nil, &synerr.Protocol{Detail: "protocol: HandleInitiator called on a client-role session"}
	}
	if f.Version != Version {
		return s.fail(&synerr.VersionUnsupported{Peer: f.Version, Self: Version}), nil
	}
	ok, err := validate(ctx, f.OwnerID, f.WriteKey)
	if err != nil {
		return s.fail(err), nil
	}
	if !ok {
		return s.fail(synerr.ErrWriteKeyInvalid), nil
	}
	s.state = StateSyncing
	return s.step(ctx, f.Ranges, apply)
}

// HandleNonInitiator is the client side of spec §4.F step 3: apply
// received messages, advance the HLC, and either close (both sides'
// ranges resolved) or send another Initiator-shaped frame continuing
// reconciliation.
func (s *Session) HandleNonInitiator(ctx context.Context, f NonInitiatorFrame, apply Apply) (Frame, error) {
	if s.role != RoleClient {
		return nil, &synerr.Protocol{Detail: "protocol: HandleNonInitiator called on a relay-role session"}
	}
	if f.Version != Version {
		return s.fail(&synerr.VersionUnsupported{Peer: f.Version, Self: Version}), nil
	}
	reply, err := s.step(ctx, f.Ranges, apply)
	if err != nil {
		return nil, err
	}
	if nonInit, ok := reply.(NonInitiatorFrame); ok {
		if len(nonInit.Ranges.Entries) == 0 {
			return reply, nil // step found nothing left to say and moved to CLOSED
		}
		return InitiatorFrame{Version: Version, OwnerID: s.ownerID, WriteKey: s.writeKey, Ranges: nonInit.Ranges}, nil
	}
	return reply, nil // Error frame: pass through
}

// step runs one round of reconcile.Step, applies what was received,
// advances the clock, and reports CLOSED once nothing remains to say.
func (s *Session) step(ctx context.Context, incoming reconcile.RangeMessage, apply Apply) (Frame, error) {
	outgoing, applied, err := reconcile.Step(ctx, s.src, incoming, s.policy)
	if err != nil {
		return s.fail(err), nil
	}
	if len(applied) > 0 {
		if err := apply(ctx, applied); err != nil {
			return s.fail(err), nil
		}
		for _, m := range applied {
			if _, err := s.clock.Receive(m.Timestamp); err != nil {
				return s.fail(err), nil
			}
		}
	}
	if len(outgoing.Entries) == 0 {
		s.state = StateClosed
	}
	return NonInitiatorFrame{Version: Version, OwnerID: s.ownerID, Ranges: outgoing}, nil
}

// HandleError moves the session to ERRORED on either side, recording
// the peer-reported failure.
func (s *Session) HandleError(f ErrorFrame) error {
	s.state = StateErrored
	s.err = &synerr.Protocol{Detail: f.Code.String() + ": " + f.Detail}
	return s.err
}
