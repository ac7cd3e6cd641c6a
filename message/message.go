// Package message defines Message, the replication unit (spec §3):
// an (ownerId, timestamp, ciphertext) triple, plus its wire encoding.
package message

import (
	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/wire"
)

// Message is the unit of replication. Its identity key is
// (OwnerID, Timestamp); the Timestamp alone is globally unique within
// an owner.
type Message struct {
	OwnerID    owner.ID
	Timestamp  hlc.Timestamp
	Ciphertext []byte
}

// AssociatedData returns the AEAD associated data bound to this
// message's ciphertext: ownerId || encoded timestamp (spec §4.C).
func AssociatedData(id owner.ID, ts hlc.Timestamp) []byte {
	b := make([]byte, owner.IDSize+hlc.Size)
	copy(b, id[:])
	hlc.Encode(ts, b[owner.IDSize:])
	return b
}

// Encode writes m as ownerId || timestamp || varbytes(ciphertext),
// the form used inside TimestampsListWithChanges payloads (spec §4.F).
func Encode(w *wire.Writer, m Message) {
	w.PutBytes(m.OwnerID[:])
	var ts [hlc.Size]byte
	hlc.Encode(m.Timestamp, ts[:])
	w.PutBytes(ts[:])
	w.PutVarBytes(m.Ciphertext)
}

// Decode reverses Encode.
func Decode(r *wire.Reader) (Message, error) {
	var m Message
	idBytes, err := r.GetBytes(owner.IDSize)
	if err != nil {
		return Message{}, err
	}
	copy(m.OwnerID[:], idBytes)
	tsBytes, err := r.GetBytes(hlc.Size)
	if err != nil {
		return Message{}, err
	}
	ts, err := hlc.Decode(tsBytes)
	if err != nil {
		return Message{}, err
	}
	m.Timestamp = ts
	ct, err := r.GetVarBytes()
	if err != nil {
		return Message{}, err
	}
	m.Ciphertext = append([]byte(nil), ct...)
	return m, nil
}
