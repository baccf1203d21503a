// Package aggregate converts positional A/B judgments into condition-relative
// outcomes and tallies them.
package aggregate

import (
	"sort"

	"github.com/dshills/peerjudge/internal/schema"
)

// Counts tallies condition-relative outcomes for one judge.
// Total = PeerWins + VanillaWins + Ties. Excluded records are not in Total.
type Counts struct {
	PeerWins    int
	VanillaWins int
	Ties        int
	Total       int
	Excluded    int
}

// NonTie returns PeerWins + VanillaWins.
func (c Counts) NonTie() int {
	return c.PeerWins + c.VanillaWins
}

// Outcome maps a judgment's positional winner to the condition it favours,
// using the condition assignment stored on the record itself. ok is false
// when the record is malformed: an unknown winner, an unknown condition, or
// the same condition on both sides.
func Outcome(r schema.JudgmentRecord) (schema.Outcome, bool) {
	if !r.CondA.Valid() || !r.CondB.Valid() || r.CondA == r.CondB {
		return "", false
	}
	switch r.Winner {
	case schema.WinnerTie:
		return schema.OutcomeTie, true
	case schema.WinnerA:
		return conditionOutcome(r.CondA), true
	case schema.WinnerB:
		return conditionOutcome(r.CondB), true
	}
	return "", false
}

func conditionOutcome(c schema.Condition) schema.Outcome {
	if c == schema.ConditionPeer {
		return schema.OutcomePeer
	}
	return schema.OutcomeVanilla
}

// Aggregate tallies outcomes across records. Malformed records are skipped
// and counted in Excluded.
func Aggregate(records []schema.JudgmentRecord) Counts {
	var c Counts
	for _, r := range records {
		o, ok := Outcome(r)
		if !ok {
			c.Excluded++
			continue
		}
		switch o {
		case schema.OutcomePeer:
			c.PeerWins++
		case schema.OutcomeVanilla:
			c.VanillaWins++
		case schema.OutcomeTie:
			c.Ties++
		}
	}
	c.Total = c.PeerWins + c.VanillaWins + c.Ties
	return c
}

// Paired holds two judges' outcomes over the items both judged validly,
// aligned by index.
type Paired struct {
	Items []string
	A     []schema.Outcome
	B     []schema.Outcome
}

// Pair aligns two judges' outcomes on their common items in sorted item
// order. Items either judge got wrong (malformed record) are dropped. When a
// judge has several records for an item, the first valid one is used.
func Pair(a, b []schema.JudgmentRecord) Paired {
	oa := firstOutcomes(a)
	ob := firstOutcomes(b)
	var items []string
	for id := range oa {
		if _, ok := ob[id]; ok {
			items = append(items, id)
		}
	}
	sort.Strings(items)
	p := Paired{Items: items}
	for _, id := range items {
		p.A = append(p.A, oa[id])
		p.B = append(p.B, ob[id])
	}
	return p
}

func firstOutcomes(records []schema.JudgmentRecord) map[string]schema.Outcome {
	out := make(map[string]schema.Outcome, len(records))
	for _, r := range records {
		if _, seen := out[r.ItemID]; seen {
			continue
		}
		if o, ok := Outcome(r); ok {
			out[r.ItemID] = o
		}
	}
	return out
}
