package reconcile

import (
	"context"

	"github.com/evolu-go/sync/hlc"
	"github.com/evolu-go/sync/krange"
	"github.com/evolu-go/sync/synerr"
)

// BuildInitial describes the whole of r as a single entry, the way a
// session opens reconciliation for an owner (spec §4.F step 1): empty
// ranges collapse to Skip, small ones list their timestamps outright,
// and everything else starts as a Fingerprint to be split on demand.
func BuildInitial(ctx context.Context, src Source, r krange.Range, policy Policy) (RangeMessage, error) {
	policy = policy.withDefaults()
	entry, err := describe(ctx, src, r, policy)
	if err != nil {
		return RangeMessage{}, err
	}
	return RangeMessage{Entries: []Entry{entry}}, nil
}

// describe classifies a single range against its current local
// content: Skip if empty, TimestampsList if small, else Fingerprint.
func describe(ctx context.Context, src Source, r krange.Range, policy Policy) (Entry, error) {
	count, err := src.Size(ctx, r)
	if err != nil {
		return Entry{}, err
	}
	switch {
	case count == 0:
		return Entry{Range: r, Kind: KindSkip}, nil
	case count <= policy.ListThreshold:
		tss, err := src.Timestamps(ctx, r)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Range: r, Kind: KindList, Timestamps: tss}, nil
	default:
		fp, err := src.Fingerprint(ctx, r)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Range: r, Kind: KindFingerprint, Fingerprint: fp}, nil
	}
}

// Step reacts to one incoming RangeMessage, producing this side's
// reply plus any received (still encrypted) messages it can apply
// immediately. It is a pure function of the current incoming message
// and the current content of src, and keeps no cross-round state:
// package protocol's Session feeds each reply back in, but it does not
// track open ranges or resume a transfer truncated with HasMore.
func Step(ctx context.Context, src Source, incoming RangeMessage, policy Policy) (outgoing RangeMessage, applied []Message, err error) {
	policy = policy.withDefaults()
	for _, e := range incoming.Entries {
		switch e.Kind {
		case KindSkip:
			out, err := stepSkip(ctx, src, e.Range, policy)
			if err != nil {
				return RangeMessage{}, nil, err
			}
			if out != nil {
				outgoing.Entries = append(outgoing.Entries, *out)
			}
		case KindFingerprint:
			outs, err := stepFingerprint(ctx, src, e, policy)
			if err != nil {
				return RangeMessage{}, nil, err
			}
			outgoing.Entries = append(outgoing.Entries, outs...)
		case KindList:
			outs, err := stepList(ctx, src, e, policy)
			if err != nil {
				return RangeMessage{}, nil, err
			}
			outgoing.Entries = append(outgoing.Entries, outs...)
		case KindListWithChanges:
			for _, m := range e.Messages {
				applied = append(applied, Message{Timestamp: m.Timestamp, Ciphertext: m.Ciphertext})
			}
		default:
			return RangeMessage{}, nil, &synerr.Protocol{Detail: "reconcile: unknown entry kind"}
		}
	}
	return outgoing, applied, nil
}

// Message is the subset of message.Message reconcile hands back to a
// caller applying received content; kept separate from message.Message
// so this package's public surface doesn't force callers to import it
// just to read a Step result.
type Message struct {
	Timestamp  hlc.Timestamp
	Ciphertext []byte
}

func stepSkip(ctx context.Context, src Source, r krange.Range, policy Policy) (*Entry, error) {
	tss, err := src.Timestamps(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(tss) == 0 {
		return &Entry{Range: r, Kind: KindSkip}, nil
	}
	hasMore := false
	if len(tss) > policy.MaxItems {
		tss = tss[:policy.MaxItems]
		hasMore = true
	}
	msgs, err := src.Changes(ctx, tss)
	if err != nil {
		return nil, err
	}
	return &Entry{Range: r, Kind: KindListWithChanges, Messages: msgs, HasMore: hasMore}, nil
}

func stepFingerprint(ctx context.Context, src Source, e Entry, policy Policy) ([]Entry, error) {
	localFP, err := src.Fingerprint(ctx, e.Range)
	if err != nil {
		return nil, err
	}
	if localFP == e.Fingerprint {
		return nil, nil // ranges already agree; nothing further to say
	}
	count, err := src.Size(ctx, e.Range)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		// local is empty, remote is not (fingerprints disagreed): ask
		// remote to send everything, same as an explicit Skip would.
		return []Entry{{Range: e.Range, Kind: KindSkip}}, nil
	}
	mid, ok, err := src.RankAt(ctx, e.Range, count/2)
	if err != nil {
		return nil, err
	}
	if !ok || !e.Range.Lo.Less(mid) || !mid.Less(e.Range.Hi) {
		// degenerate split (e.g. a single distinct timestamp repeated
		// at the boundary): fall back to describing the whole range.
		d, err := describe(ctx, src, e.Range, policy)
		if err != nil {
			return nil, err
		}
		return []Entry{d}, nil
	}
	left := krange.Range{Lo: e.Range.Lo, Hi: mid}
	right := krange.Range{Lo: mid, Hi: e.Range.Hi}
	leftEntry, err := describe(ctx, src, left, policy)
	if err != nil {
		return nil, err
	}
	rightEntry, err := describe(ctx, src, right, policy)
	if err != nil {
		return nil, err
	}
	return []Entry{leftEntry, rightEntry}, nil
}

// stepList handles an incoming TimestampsList for e.Range. It may
// return up to two entries for that same range: a TimestampsWithChanges
// entry pushing whatever this side has that the announcement lacked,
// and/or a fresh description of this side's own current content so
// the remote can, on its next Step, discover exactly what it is still
// missing (spec §4.E's TimestampsList: "peer replies with timestamps
// it lacks" — resolved here as a describe-again-from-current-state
// reply rather than a literal want-list, since a describe() reply is
// self-correcting even under concurrent local writes).
func stepList(ctx context.Context, src Source, e Entry, policy Policy) ([]Entry, error) {
	if err := validateAscending(e.Timestamps); err != nil {
		return nil, err
	}
	localTSs, err := src.Timestamps(ctx, e.Range)
	if err != nil {
		return nil, err
	}
	remoteSet := make(map[hlc.Timestamp]struct{}, len(e.Timestamps))
	for _, t := range e.Timestamps {
		remoteSet[t] = struct{}{}
	}
	localSet := make(map[hlc.Timestamp]struct{}, len(localTSs))
	var toSend []hlc.Timestamp
	for _, t := range localTSs {
		localSet[t] = struct{}{}
		if _, ok := remoteSet[t]; !ok {
			toSend = append(toSend, t)
		}
	}
	wantsSomething := false
	for _, t := range e.Timestamps {
		if _, ok := localSet[t]; !ok {
			wantsSomething = true
			break
		}
	}
	if len(toSend) == 0 && !wantsSomething {
		return nil, nil // identical sets, range resolved
	}

	var out []Entry
	if len(toSend) > 0 {
		hasMore := false
		if len(toSend) > policy.MaxItems {
			toSend = toSend[:policy.MaxItems]
			hasMore = true
		}
		msgs, err := src.Changes(ctx, toSend)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Range: e.Range, Kind: KindListWithChanges, Messages: msgs, HasMore: hasMore})
	}
	if wantsSomething {
		d, err := describe(ctx, src, e.Range, policy)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func validateAscending(tss []hlc.Timestamp) error {
	for i := 1; i < len(tss); i++ {
		if !tss[i-1].Less(tss[i]) {
			return &synerr.Protocol{Detail: "reconcile: timestamps list not strictly ascending"}
		}
	}
	return nil
}
