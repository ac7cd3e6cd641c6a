package reconcile

import (
	"context"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/message"
	"github.com/evolu-go/sync/owner"
	"github.com/evolu-go/sync/storage"
)

// Source is the narrow capability reconcile needs from wherever an
// owner's message set actually lives. Keeping it this small (rather
// than handing reconcile a *storage.Store) means the split/compare
// algorithm below can be driven by any backing set, including the
// in-memory fake used in reconcile_test.go (spec §9: components are
// given exactly the capability they need, nothing wider).
type Source interface {
	Size(ctx context.Context, r krange.Range) (int, error)
	Fingerprint(ctx context.Context, r krange.Range) (storage.Fingerprint, error)
	Timestamps(ctx context.Context, r krange.Range) ([]hlc.Timestamp, error)
	RankAt(ctx context.Context, r krange.Range, k int) (hlc.Timestamp, bool, error)
	Changes(ctx context.Context, ts []hlc.Timestamp) ([]message.Message, error)
}

// StorageSource adapts one owner's slice of a *storage.Store to Source.
type StorageSource struct {
	Store *storage.Store
	Owner owner.ID
}

func (s StorageSource) Size(ctx context.Context, r krange.Range) (int, error) {
	return s.Store.GetSize(ctx, s.Owner, r)
}

func (s StorageSource) Fingerprint(ctx context.Context, r krange.Range) (storage.Fingerprint, error) {
	return s.Store.Fingerprint(ctx, s.Owner, r)
}

func (s StorageSource) Timestamps(ctx context.Context, r krange.Range) ([]hlc.Timestamp, error) {
	return s.Store.IterateTimestamps(ctx, s.Owner, r, 0)
}

func (s StorageSource) RankAt(ctx context.Context, r krange.Range, k int) (hlc.Timestamp, bool, error) {
	return s.Store.FindTimestampAtRank(ctx, s.Owner, r, k)
}

// Changes fetches the ciphertext for each requested timestamp,
// skipping any that have gone missing between the caller computing ts
// and this call (a benign race under concurrent writers: the other
// side will simply see it on a later round).
func (s StorageSource) Changes(ctx context.Context, ts []hlc.Timestamp) ([]message.Message, error) {
	out := make([]message.Message, 0, len(ts))
	for _, t := range ts {
		ct, err := s.Store.ReadChange(ctx, s.Owner, t)
		if err != nil {
			return nil, err
		}
		if ct == nil {
			continue
		}
		out = append(out, message.Message{OwnerID: s.Owner, Timestamp: t, Ciphertext: ct})
	}
	return out, nil
}
