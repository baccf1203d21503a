package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/peerjudge/internal/schema"
)

func rec(id string, a, b schema.Condition, w schema.Winner) schema.JudgmentRecord {
	return schema.JudgmentRecord{ItemID: id, JudgeID: "judge1", CondA: a, CondB: b, Winner: w}
}

const (
	peer    = schema.ConditionPeer
	vanilla = schema.ConditionVanilla
)

func TestAggregate_PositionalToCondition(t *testing.T) {
	records := []schema.JudgmentRecord{
		rec("1", peer, vanilla, schema.WinnerA),
		rec("2", vanilla, peer, schema.WinnerA),
		rec("3", peer, vanilla, schema.WinnerTie),
	}
	got := Aggregate(records)
	assert.Equal(t, Counts{PeerWins: 1, VanillaWins: 1, Ties: 1, Total: 3}, got)
	assert.Equal(t, 2, got.NonTie())
}

func TestAggregate_ExcludesMalformed(t *testing.T) {
	records := []schema.JudgmentRecord{
		rec("1", vanilla, peer, schema.WinnerB),
		rec("2", peer, peer, schema.WinnerA),
		rec("3", peer, "baseline", schema.WinnerA),
		rec("4", peer, vanilla, "C"),
		rec("5", peer, vanilla, "a"),
	}
	got := Aggregate(records)
	assert.Equal(t, 1, got.PeerWins)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 4, got.Excluded)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Equal(t, Counts{}, Aggregate(nil))
}

func TestOutcome_UsesRecordAssignment(t *testing.T) {
	o, ok := Outcome(rec("x", vanilla, peer, schema.WinnerB))
	assert.True(t, ok)
	assert.Equal(t, schema.OutcomePeer, o)

	o, ok = Outcome(rec("x", peer, vanilla, schema.WinnerB))
	assert.True(t, ok)
	assert.Equal(t, schema.OutcomeVanilla, o)
}

func TestPair_CommonItemsSorted(t *testing.T) {
	j1 := []schema.JudgmentRecord{
		rec("b", peer, vanilla, schema.WinnerA),
		rec("a", peer, vanilla, schema.WinnerB),
		rec("c", peer, vanilla, schema.WinnerTie),
		rec("d", peer, peer, schema.WinnerA),
	}
	j2 := []schema.JudgmentRecord{
		rec("a", vanilla, peer, schema.WinnerA),
		rec("b", vanilla, peer, schema.WinnerTie),
		rec("d", peer, vanilla, schema.WinnerA),
		rec("e", peer, vanilla, schema.WinnerA),
	}
	p := Pair(j1, j2)
	assert.Equal(t, []string{"a", "b"}, p.Items)
	assert.Equal(t, []schema.Outcome{schema.OutcomeVanilla, schema.OutcomePeer}, p.A)
	assert.Equal(t, []schema.Outcome{schema.OutcomeVanilla, schema.OutcomeTie}, p.B)
}

func TestPair_FirstValidRecordWins(t *testing.T) {
	j1 := []schema.JudgmentRecord{
		rec("a", peer, peer, schema.WinnerA),
		rec("a", peer, vanilla, schema.WinnerA),
		rec("a", peer, vanilla, schema.WinnerB),
	}
	p := Pair(j1, j1)
	assert.Equal(t, []schema.Outcome{schema.OutcomePeer}, p.A)
}
