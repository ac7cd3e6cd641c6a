// Package reconcile implements range-based set reconciliation (spec
// §4.E): the algorithm that lets two parties discover the symmetric
// difference between their message sets for an owner with bandwidth
// proportional to the size of that difference, not the size of either
// set. It is deliberately storage- and network-free — it only talks
// to a narrow Source capability — so it is unit-testable without a
// database or a transport (spec §9).
package reconcile

import (
	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/storage"
)

// Kind discriminates a RangeMessage entry's payload (spec §4.E).
type Kind uint8

const (
	KindFingerprint Kind = iota
	KindSkip
	KindList
	KindListWithChanges
)

func (k Kind) String() string {
	switch k {
	case KindFingerprint:
		return "fingerprint"
	case KindSkip:
		return "skip"
	case KindList:
		return "list"
	case KindListWithChanges:
		return "listWithChanges"
	default:
		return "unknown"
	}
}

// Entry is one (range, payload) pair of a RangeMessage.
type Entry struct {
	Range       krange.Range
	Kind        Kind
	Fingerprint storage.Fingerprint
	Timestamps  []hlc.Timestamp
	Messages    []message.Message
	HasMore     bool
}

// RangeMessage is an ordered sequence of entries covering (not
// necessarily contiguously, once both sides start pushing content)
// the key space under reconciliation.
type RangeMessage struct {
	Entries []Entry
}
