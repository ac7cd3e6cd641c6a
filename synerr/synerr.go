// Package synerr defines the closed set of error kinds that cross
// component boundaries in this module (spec §7). Every fallible
// operation returns a plain Go error; callers discriminate with
// errors.Is/errors.As instead of a tagged-union result type.
package synerr

import (
	"errors"
	"fmt"
)

// ErrCounterOverflow is returned by hlc.Clock.Send when the logical
// counter would exceed its 16-bit width within the same physical
// millisecond.
var ErrCounterOverflow = fmt.Errorf("hlc: counter overflow")

// ErrDecrypt is returned when AEAD authentication fails: tamper or a
// wrong key, never distinguished to the caller.
var ErrDecrypt = fmt.Errorf("xcrypto: decryption failed")

// ErrWriteKeyInvalid is returned when a write is presented under a
// write-key that does not match the one on record for the owner.
var ErrWriteKeyInvalid = fmt.Errorf("protocol: write key invalid")

// ErrCancelled is returned by any long-running operation aborted via
// its context before completion.
var ErrCancelled = fmt.Errorf("cancelled")

// ClockDrift is returned by hlc.Clock.Send/Receive when the local
// physical clock disagrees with wall time by more than the configured
// drift budget.
type ClockDrift struct {
	DriftMillis int64
}

func (e *ClockDrift) Error() string {
	return fmt.Sprintf("hlc: clock drift %dms exceeds budget", e.DriftMillis)
}

// VersionUnsupported is returned when a peer's protocol version byte
// does not match this replica's.
type VersionUnsupported struct {
	Peer, Self byte
}

func (e *VersionUnsupported) Error() string {
	return fmt.Sprintf("protocol: unsupported peer version %d (self %d)", e.Peer, e.Self)
}

// Storage wraps a persistence failure. Its Error text includes Cause
// in full; neither this type nor package rlog redacts the SQL detail.
type Storage struct {
	Cause error
}

func (e *Storage) Error() string { return fmt.Sprintf("storage: %v", e.Cause) }
func (e *Storage) Unwrap() error { return e.Cause }

// Transport wraps a network failure.
type Transport struct {
	Cause error
}

func (e *Transport) Error() string { return fmt.Sprintf("transport: %v", e.Cause) }
func (e *Transport) Unwrap() error { return e.Cause }

// Protocol is returned for malformed or out-of-order wire messages.
type Protocol struct {
	Detail string
}

func (e *Protocol) Error() string { return fmt.Sprintf("protocol: %s", e.Detail) }

// Recoverable reports whether err is a transient failure the
// orchestrator should retry rather than terminate the session on.
func Recoverable(err error) bool {
	var t *Transport
	if errors.As(err, &t) {
		return true
	}
	var s *Storage
	return errors.As(err, &s)
}
