// Package view reconstructs the plaintext projections spec §3
// describes but that a relay can never compute, since they require
// decrypting every Change under the owner key (spec §4.C: "the relay
// sees only (ownerId, timestamp, ciphertext)"). Given a Store and an
// owner's key, View derives:
//
//   - the "current value" of every (table, rowId, column) register:
//     the value carried by the message with the greatest timestamp
//     for that register (spec §3, last-writer-wins, property 8);
//   - the append-only `history` table: every register mutation
//     ordered by timestamp, descending (spec §3).
//
// Grounded on the teacher's valuelocmap (valuelocmap/valuelocmap.go):
// an in-memory map keyed by a fixed-width key, holding "the newest
// thing written here wins" semantics. View keeps that same
// in-memory-index-over-an-append-only-log shape, but keyed by
// (table, rowId, column) instead of a single hashed key, and built by
// replaying decrypted Changes instead of an in-process write path.
package view

import (
	"context"
	"sort"

	"github.com/evolu-go/sync/change"
	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/storage"
	"github.com/evolu-go/sync/xcrypto"
)

// Register identifies one LWW cell: a single column of a single row
// of a single table (spec §3: "The (rowId, column) pair identifies
// the register").
type Register struct {
	Table  string
	RowID  string
	Column string
}

// Entry is one historical mutation of a Register (spec §3's
// `history` columns: table, rowId, column, value, timestamp).
type Entry struct {
	Register
	Value     change.Value
	Timestamp hlc.Timestamp
}

// deletedColumn is the conventional register name spec §3 calls out:
// "A row is 'deleted' iff its isDeleted register is true at the
// latest timestamp."
const deletedColumn = "isDeleted"

// View is a read-only, point-in-time projection of one owner's
// decrypted message log.
type View struct {
	current map[Register]Entry
	history []Entry // descending by Timestamp
}

// Build decrypts and replays every message stored for id under key,
// producing a View. It is O(n) in message count, same cost profile as
// the teacher's full valuelocmap rebuild from an on-disk log.
func Build(ctx context.Context, store *storage.Store, id owner.ID, key owner.Key) (*View, error) {
	timestamps, err := store.IterateTimestamps(ctx, id, krange.Full(), 0)
	if err != nil {
		return nil, err
	}
	v := &View{current: make(map[Register]Entry, len(timestamps))}
	for _, ts := range timestamps {
		ct, err := store.ReadChange(ctx, id, ts)
		if err != nil {
			return nil, err
		}
		if ct == nil {
			continue
		}
		plain, err := xcrypto.Open(key, message.AssociatedData(id, ts), ct)
		if err != nil {
			// Tampered or foreign-keyed message: it is skipped and
			// Build carries on; the failure is not reported to the
			// caller.
			continue
		}
		c, err := change.Decode(plain)
		if err != nil {
			continue
		}
		reg := Register{Table: c.Table, RowID: c.RowID, Column: c.Column}
		entry := Entry{Register: reg, Value: c.Value, Timestamp: ts}
		v.history = append(v.history, entry)
		if existing, ok := v.current[reg]; !ok || existing.Timestamp.Less(ts) {
			v.current[reg] = entry
		}
	}
	sort.Slice(v.history, func(i, j int) bool { return v.history[j].Timestamp.Less(v.history[i].Timestamp) })
	return v, nil
}

// Current returns the last-writer-wins value of (table, rowID,
// column), and whether any message has ever targeted that register.
func (v *View) Current(table, rowID, column string) (change.Value, bool) {
	e, ok := v.current[Register{Table: table, RowID: rowID, Column: column}]
	return e.Value, ok
}

// IsDeleted reports whether a row's isDeleted register is currently
// true (spec §3). A row that was never marked is not deleted.
func (v *View) IsDeleted(table, rowID string) bool {
	val, ok := v.Current(table, rowID, deletedColumn)
	return ok && !val.IsNull() && val.Kind == change.KindInt && val.Int != 0
}

// History returns every recorded mutation, most recent first (spec
// §3: "exposing... ordered by timestamp"). No tombstone is ever
// synthesized — deletion is represented purely by the isDeleted
// register's current value, never by removing history entries.
func (v *View) History() []Entry {
	return append([]Entry(nil), v.history...)
}

// HistoryFor returns only the entries for one register, most recent
// first — the time-travel query spec §3's `history` view exists for.
func (v *View) HistoryFor(table, rowID, column string) []Entry {
	reg := Register{Table: table, RowID: rowID, Column: column}
	var out []Entry
	for _, e := range v.history {
		if e.Register == reg {
			out = append(out, e)
		}
	}
	return out
}
