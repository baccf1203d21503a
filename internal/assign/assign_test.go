package assign

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/peerjudge/internal/schema"
)

func TestAssign_Deterministic(t *testing.T) {
	a := New(42)
	firstA, firstB := a.Assign("304")
	for i := 0; i < 100; i++ {
		gotA, gotB := New(42).Assign("304")
		require.Equal(t, firstA, gotA)
		require.Equal(t, firstB, gotB)
	}
}

func TestAssign_AlwaysBothConditions(t *testing.T) {
	a := New(42)
	for i := 0; i < 500; i++ {
		condA, condB := a.Assign(fmt.Sprintf("paper-%d", i))
		assert.True(t, condA.Valid())
		assert.True(t, condB.Valid())
		assert.NotEqual(t, condA, condB)
	}
}

func TestAssign_Balanced(t *testing.T) {
	a := New(42)
	const n = 10000
	peerA := 0
	for i := 0; i < n; i++ {
		if condA, _ := a.Assign(fmt.Sprintf("item-%05d", i)); condA == schema.ConditionPeer {
			peerA++
		}
	}
	// Six standard deviations of Binomial(10000, 0.5).
	assert.InDelta(t, n/2, peerA, 300, "peer assigned to A %d of %d times", peerA, n)
}

func TestAssign_SeedChangesLayout(t *testing.T) {
	a, b := New(42), New(7)
	differ := 0
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("p%d", i)
		x, _ := a.Assign(id)
		y, _ := b.Assign(id)
		if x != y {
			differ++
		}
	}
	assert.Greater(t, differ, 0, "different seeds should produce different layouts for some ids")
}

func TestMatches(t *testing.T) {
	a := New(42)
	condA, condB := a.Assign("abc")
	assert.True(t, a.Matches("abc", condA, condB))
	assert.False(t, a.Matches("abc", condB, condA))
	assert.False(t, a.Matches("abc", condA, condA))
}
