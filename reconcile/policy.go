package reconcile

// Policy tunes when a range is described by fingerprint versus by an
// explicit list, and how many items a single list-shaped entry may
// carry (spec §4.E: "LIST_THRESHOLD (default 50)" and a "max items
// per frame (default 500)").
type Policy struct {
	// ListThreshold is the item count at or below which a range is
	// described by TimestampsList instead of being split further.
	ListThreshold int
	// MaxItems bounds how many messages a single pushed entry carries;
	// a larger set is cut to MaxItems and the entry flagged HasMore.
	// Nothing in this package or in package protocol reads HasMore, so
	// the items past the cap travel only if a later round's exchange
	// covers that range again.
	MaxItems int
}

// DefaultPolicy matches spec §4.E's stated defaults.
func DefaultPolicy() Policy {
	return Policy{ListThreshold: 50, MaxItems: 500}
}

func (p Policy) withDefaults() Policy {
	if p.ListThreshold <= 0 {
		p.ListThreshold = 50
	}
	if p.MaxItems <= 0 {
		p.MaxItems = 500
	}
	return p
}
