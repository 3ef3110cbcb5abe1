package model

import "time"

// Relationship is an undirected co-occurrence edge. UIDA < UIDB always holds
// for stored relationships.
type Relationship struct {
	UIDA      string    `json:"uid_a"`
	UIDB      string    `json:"uid_b"`
	CreatedAt time.Time `json:"created_at"`
}

// Touches reports whether uid is one of the endpoints.
func (r Relationship) Touches(uid string) bool {
	return r.UIDA == uid || r.UIDB == uid
}

// CanonicalPair orders two uids so the smaller comes first.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey identifies an unordered pair.
func PairKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + "|" + b
}
