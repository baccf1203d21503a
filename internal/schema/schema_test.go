package schema_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/dshills/peerjudge/internal/schema"
)

func TestParseWinner(t *testing.T) {
	cases := []struct {
		in      string
		want    schema.Winner
		wantErr bool
	}{
		{"A", schema.WinnerA, false},
		{"a", schema.WinnerA, false},
		{" B ", schema.WinnerB, false},
		{"TIE", schema.WinnerTie, false},
		{"tie", schema.WinnerTie, false},
		{"", "", true},
		{"C", "", true},
		{"peer", "", true},
	}
	for _, c := range cases {
		got, err := schema.ParseWinner(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseWinner(%q) err = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("ParseWinner(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWinnerValid_ExactOnly(t *testing.T) {
	if schema.Winner("a").Valid() {
		t.Error(`Winner("a").Valid() = true; stored winners must be exact`)
	}
	for _, w := range []schema.Winner{schema.WinnerA, schema.WinnerB, schema.WinnerTie} {
		if !w.Valid() {
			t.Errorf("%q.Valid() = false, want true", w)
		}
	}
}

func TestConditionOther(t *testing.T) {
	if got := schema.ConditionPeer.Other(); got != schema.ConditionVanilla {
		t.Errorf("peer.Other() = %q, want vanilla", got)
	}
	if got := schema.ConditionVanilla.Other(); got != schema.ConditionPeer {
		t.Errorf("vanilla.Other() = %q, want peer", got)
	}
	if got := schema.Condition("x").Other(); got != "" {
		t.Errorf("x.Other() = %q, want empty", got)
	}
}

func TestJudgmentRecord_WireNames(t *testing.T) {
	rec := schema.JudgmentRecord{
		ItemID:    "304",
		JudgeID:   "judge1",
		CondA:     schema.ConditionVanilla,
		CondB:     schema.ConditionPeer,
		Winner:    schema.WinnerB,
		Reasoning: "more specific",
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"item_id":"304"`, `"judge_id":"judge1"`, `"cond_A":"vanilla"`, `"cond_B":"peer"`, `"winner":"B"`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("marshalled record %s missing %s", b, field)
		}
	}
	if rec.Key() != "304/judge1" {
		t.Errorf("Key() = %q, want 304/judge1", rec.Key())
	}
}

func TestSummary_NullStatistics(t *testing.T) {
	b, err := json.Marshal(schema.Summary{Judge: "judge1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"binomial_p_value":null`, `"wilson_ci_low":null`, `"cohens_kappa":null`, `"peer_win_rate_non_tie":null`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("marshalled summary %s missing %s", b, field)
		}
	}
}

func TestItem_ReadsPairsFormat(t *testing.T) {
	var it schema.Item
	line := `{"paper_id":"12","paper_text":"body","ground_truth":"review"}`
	if err := json.Unmarshal([]byte(line), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.ID != "12" || it.PaperText != "body" || it.GroundTruth != "review" {
		t.Errorf("unexpected item: %+v", it)
	}
}
