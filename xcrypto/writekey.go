package xcrypto

import "crypto/subtle"

// WriteKeyEqual compares two write keys in constant time, independent
// of where they first differ (spec §4.C, tested by property 9 in
// §8). crypto/subtle is the correct tool here rather than a pack
// dependency — see DESIGN.md.
func WriteKeyEqual(a, b [16]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
