// Package protocol implements the session-level wire protocol (spec
// §4.F): the three frame kinds exchanged between a client and a relay,
// their binary codec, and the OPENING→SYNCING→{CLOSED,ERRORED} session
// state machine that drives package reconcile's Step across rounds.
package protocol

import (
	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/reconcile"
	"github.com/evolu-go/sync/storage"
	"github.com/evolu-go/sync/synerr"
	"github.com/evolu-go/sync/wire"
)

// Version is the single protocol version byte this build speaks.
const Version byte = 0x01

type frameKind uint8

const (
	frameKindInitiator frameKind = iota + 1
	frameKindNonInitiator
	frameKindError
)

// Frame is the sum type of the three messages a session exchanges.
type Frame interface {
	isFrame()
}

// InitiatorFrame is sent client → relay: spec §4.F kind 1.
type InitiatorFrame struct {
	Version  byte
	OwnerID  owner.ID
	WriteKey owner.WriteKey
	Ranges   reconcile.RangeMessage
}

// NonInitiatorFrame is sent relay → client: spec §4.F kind 2.
type NonInitiatorFrame struct {
	Version byte
	OwnerID owner.ID
	Ranges  reconcile.RangeMessage
}

// ErrorFrame may be sent by either side: spec §4.F kind 3.
type ErrorFrame struct {
	Version byte
	Code    ErrorCode
	Detail  string
}

func (InitiatorFrame) isFrame()    {}
func (NonInitiatorFrame) isFrame() {}
func (ErrorFrame) isFrame()        {}

// Encode serializes f to its wire representation, ready to be handed
// to wire.WriteFrame (and, over a real Transport, wire.Pad).
func Encode(f Frame) ([]byte, error) {
	w := wire.NewWriter(256)
	switch v := f.(type) {
	case InitiatorFrame:
		w.PutU8(uint8(frameKindInitiator))
		w.PutU8(v.Version)
		w.PutBytes(v.OwnerID[:])
		w.PutBytes(v.WriteKey[:])
		encodeRangeMessage(w, v.Ranges)
	case NonInitiatorFrame:
		w.PutU8(uint8(frameKindNonInitiator))
		w.PutU8(v.Version)
		w.PutBytes(v.OwnerID[:])
		encodeRangeMessage(w, v.Ranges)
	case ErrorFrame:
		w.PutU8(uint8(frameKindError))
		w.PutU8(v.Version)
		w.PutU8(uint8(v.Code))
		w.PutVarBytes([]byte(v.Detail))
	default:
		return nil, &synerr.Protocol{Detail: "protocol: unknown frame type"}
	}
	return w.Bytes(), nil
}

// Decode reverses Encode.
func Decode(b []byte) (Frame, error) {
	r := wire.NewReader(b)
	kindByte, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	switch frameKind(kindByte) {
	case frameKindInitiator:
		version, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		idBytes, err := r.GetBytes(owner.IDSize)
		if err != nil {
			return nil, err
		}
		var id owner.ID
		copy(id[:], idBytes)
		wkBytes, err := r.GetBytes(owner.WriteKeySize)
		if err != nil {
			return nil, err
		}
		var wk owner.WriteKey
		copy(wk[:], wkBytes)
		ranges, err := decodeRangeMessage(r)
		if err != nil {
			return nil, err
		}
		return InitiatorFrame{Version: version, OwnerID: id, WriteKey: wk, Ranges: ranges}, nil
	case frameKindNonInitiator:
		version, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		idBytes, err := r.GetBytes(owner.IDSize)
		if err != nil {
			return nil, err
		}
		var id owner.ID
		copy(id[:], idBytes)
		ranges, err := decodeRangeMessage(r)
		if err != nil {
			return nil, err
		}
		return NonInitiatorFrame{Version: version, OwnerID: id, Ranges: ranges}, nil
	case frameKindError:
		version, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		code, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		detail, err := r.GetVarBytes()
		if err != nil {
			return nil, err
		}
		return ErrorFrame{Version: version, Code: ErrorCode(code), Detail: string(detail)}, nil
	default:
		return nil, &synerr.Protocol{Detail: "protocol: unknown frame kind on wire"}
	}
}

func encodeRangeMessage(w *wire.Writer, rm reconcile.RangeMessage) {
	w.PutU32(uint32(len(rm.Entries)))
	for _, e := range rm.Entries {
		w.PutU8(uint8(e.Kind))
		var lo, hi [hlc.Size]byte
		hlc.Encode(e.Range.Lo, lo[:])
		hlc.Encode(e.Range.Hi, hi[:])
		w.PutBytes(lo[:])
		w.PutBytes(hi[:])
		switch e.Kind {
		case reconcile.KindSkip:
			// no payload
		case reconcile.KindFingerprint:
			w.PutBytes(e.Fingerprint[:])
		case reconcile.KindList:
			putBool(w, e.HasMore)
			w.PutU32(uint32(len(e.Timestamps)))
			for _, ts := range e.Timestamps {
				var tb [hlc.Size]byte
				hlc.Encode(ts, tb[:])
				w.PutBytes(tb[:])
			}
		case reconcile.KindListWithChanges:
			putBool(w, e.HasMore)
			w.PutU32(uint32(len(e.Messages)))
			for _, m := range e.Messages {
				message.Encode(w, m)
			}
		}
	}
}

func decodeRangeMessage(r *wire.Reader) (reconcile.RangeMessage, error) {
	n, err := r.GetU32()
	if err != nil {
		return reconcile.RangeMessage{}, err
	}
	rm := reconcile.RangeMessage{Entries: make([]reconcile.Entry, 0, n)}
	for i := uint32(0); i < n; i++ {
		kindByte, err := r.GetU8()
		if err != nil {
			return reconcile.RangeMessage{}, err
		}
		loBytes, err := r.GetBytes(hlc.Size)
		if err != nil {
			return reconcile.RangeMessage{}, err
		}
		lo, err := hlc.Decode(loBytes)
		if err != nil {
			return reconcile.RangeMessage{}, err
		}
		hiBytes, err := r.GetBytes(hlc.Size)
		if err != nil {
			return reconcile.RangeMessage{}, err
		}
		hi, err := hlc.Decode(hiBytes)
		if err != nil {
			return reconcile.RangeMessage{}, err
		}
		e := reconcile.Entry{Range: krange.Range{Lo: lo, Hi: hi}, Kind: reconcile.Kind(kindByte)}
		switch e.Kind {
		case reconcile.KindSkip:
		case reconcile.KindFingerprint:
			fpBytes, err := r.GetBytes(storage.FingerprintSize)
			if err != nil {
				return reconcile.RangeMessage{}, err
			}
			copy(e.Fingerprint[:], fpBytes)
		case reconcile.KindList:
			e.HasMore, err = getBool(r)
			if err != nil {
				return reconcile.RangeMessage{}, err
			}
			count, err := r.GetU32()
			if err != nil {
				return reconcile.RangeMessage{}, err
			}
			e.Timestamps = make([]hlc.Timestamp, 0, count)
			for j := uint32(0); j < count; j++ {
				tb, err := r.GetBytes(hlc.Size)
				if err != nil {
					return reconcile.RangeMessage{}, err
				}
				ts, err := hlc.Decode(tb)
				if err != nil {
					return reconcile.RangeMessage{}, err
				}
				e.Timestamps = append(e.Timestamps, ts)
			}
		case reconcile.KindListWithChanges:
			e.HasMore, err = getBool(r)
			if err != nil {
				return reconcile.RangeMessage{}, err
			}
			count, err := r.GetU32()
			if err != nil {
				return reconcile.RangeMessage{}, err
			}
			e.Messages = make([]message.Message, 0, count)
			for j := uint32(0); j < count; j++ {
				m, err := message.Decode(r)
				if err != nil {
					return reconcile.RangeMessage{}, err
				}
				e.Messages = append(e.Messages, m)
			}
		default:
			return reconcile.RangeMessage{}, &synerr.Protocol{Detail: "protocol: unknown range entry kind"}
		}
		rm.Entries = append(rm.Entries, e)
	}
	return rm, nil
}

func putBool(w *wire.Writer, b bool) {
	if b {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

func getBool(r *wire.Reader) (bool, error) {
	v, err := r.GetU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
