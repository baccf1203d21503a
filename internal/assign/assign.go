// Package assign maps an item to a blind A/B layout of the two conditions.
// The mapping is a pure function of the item ID and a fixed seed so judging
// can be resumed without stored state.
package assign

import (
	"crypto/sha256"
	"strconv"

	"github.com/dshills/peerjudge/internal/schema"
)

// Assigner derives A/B layouts from a fixed seed.
type Assigner struct {
	salt string
}

// New returns an Assigner for seed.
func New(seed int64) Assigner {
	return Assigner{salt: strconv.FormatInt(seed, 10)}
}

// Assign returns the conditions shown as A and B for itemID.
//
// The digest is SHA-256 over the UTF-8 bytes of itemID + "|" + decimal(seed).
// peer is A when the first digest byte is even, otherwise vanilla is A.
func (a Assigner) Assign(itemID string) (condA, condB schema.Condition) {
	sum := sha256.Sum256([]byte(itemID + "|" + a.salt))
	if sum[0]&1 == 0 {
		return schema.ConditionPeer, schema.ConditionVanilla
	}
	return schema.ConditionVanilla, schema.ConditionPeer
}

// Matches reports whether a stored layout equals the derived one.
func (a Assigner) Matches(itemID string, condA, condB schema.Condition) bool {
	wantA, wantB := a.Assign(itemID)
	return condA == wantA && condB == wantB
}
