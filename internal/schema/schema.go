// Package schema defines all canonical data types for the peerjudge record
// and report formats.
package schema

import (
	"fmt"
	"strings"
)

// Condition identifies one of the two review-generation strategies.
type Condition string

const (
	ConditionPeer    Condition = "peer"
	ConditionVanilla Condition = "vanilla"
)

// Conditions lists every condition in canonical order.
var Conditions = []Condition{ConditionPeer, ConditionVanilla}

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionPeer || c == ConditionVanilla
}

// Other returns the opposing condition. The result for an invalid condition
// is the empty string.
func (c Condition) Other() Condition {
	switch c {
	case ConditionPeer:
		return ConditionVanilla
	case ConditionVanilla:
		return ConditionPeer
	}
	return ""
}

// Winner is the positional verdict emitted by a judge.
type Winner string

const (
	WinnerA   Winner = "A"
	WinnerB   Winner = "B"
	WinnerTie Winner = "tie"
)

// ParseWinner normalizes a raw winner string. Matching is case-insensitive
// and ignores surrounding whitespace.
func ParseWinner(s string) (Winner, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a":
		return WinnerA, nil
	case "b":
		return WinnerB, nil
	case "tie":
		return WinnerTie, nil
	}
	return "", fmt.Errorf("schema: unknown winner %q", s)
}

// Valid reports whether w is one of A, B or tie exactly.
func (w Winner) Valid() bool {
	return w == WinnerA || w == WinnerB || w == WinnerTie
}

// Outcome is a condition-relative verdict: peer, vanilla or tie.
type Outcome string

const (
	OutcomePeer    Outcome = "peer"
	OutcomeVanilla Outcome = "vanilla"
	OutcomeTie     Outcome = "tie"
)

// Outcomes lists the three outcome categories in canonical order.
var Outcomes = []Outcome{OutcomePeer, OutcomeVanilla, OutcomeTie}

// Item is one paper under evaluation. Items are read-only to the pipeline.
type Item struct {
	ID          string `json:"paper_id"`
	PaperText   string `json:"paper_text"`
	GroundTruth string `json:"ground_truth"`
}

// GenerationRecord is one condition's generated review for one item.
type GenerationRecord struct {
	ItemID    string             `json:"item_id"`
	Condition Condition          `json:"condition"`
	Text      string             `json:"text"`
	Model     string             `json:"model"`
	Metadata  GenerationMetadata `json:"metadata"`
}

// Key returns the checkpoint key for the record: item_id + condition.
func (r GenerationRecord) Key() string {
	return GenerationKey(r.ItemID, r.Condition)
}

// GenerationKey builds the checkpoint key for an (item, condition) pair.
func GenerationKey(itemID string, c Condition) string {
	return itemID + "/" + string(c)
}

// GenerationMetadata carries generator-side details stored with a review.
type GenerationMetadata struct {
	RunID          string  `json:"run_id,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	PaperTextChars int     `json:"paper_text_chars"`
	Truncation     string  `json:"truncation"`
	DurationMs     int64   `json:"duration_ms"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// JudgmentRecord is one judge's verdict for one item. CondA and CondB store
// the assignment used when the judge was prompted.
type JudgmentRecord struct {
	ItemID    string    `json:"item_id"`
	JudgeID   string    `json:"judge_id"`
	CondA     Condition `json:"cond_A"`
	CondB     Condition `json:"cond_B"`
	Winner    Winner    `json:"winner"`
	Reasoning string    `json:"reasoning"`
	Model     string    `json:"model,omitempty"`
}

// Key returns the checkpoint key for the record: item_id + judge_id.
func (r JudgmentRecord) Key() string {
	return JudgmentKey(r.ItemID, r.JudgeID)
}

// JudgmentKey builds the checkpoint key for an (item, judge) pair.
func JudgmentKey(itemID, judgeID string) string {
	return itemID + "/" + judgeID
}

// Summary is the per-judge statistical report. Pointer fields are null when
// the statistic is undefined for the observed counts.
type Summary struct {
	Judge                string   `json:"judge"`
	NumExamples          int      `json:"num_examples"`
	PeerWins             int      `json:"peer_wins"`
	VanillaWins          int      `json:"vanilla_wins"`
	Ties                 int      `json:"ties"`
	Excluded             int      `json:"excluded"`
	PeerWinRateTotal     *float64 `json:"peer_win_rate_total"`
	VanillaWinRateTotal  *float64 `json:"vanilla_win_rate_total"`
	TieRateTotal         *float64 `json:"tie_rate_total"`
	PeerWinRateNonTie    *float64 `json:"peer_win_rate_non_tie"`
	VanillaWinRateNonTie *float64 `json:"vanilla_win_rate_non_tie"`
	BinomialPValue       *float64 `json:"binomial_p_value"`
	SignificantAt005     bool     `json:"significant_at_005"`
	WilsonCILow          *float64 `json:"wilson_ci_low"`
	WilsonCIHigh         *float64 `json:"wilson_ci_high"`
	CohensH              *float64 `json:"cohens_h"`
	EffectSize           string   `json:"effect_size,omitempty"`
	CohensKappa          *float64 `json:"cohens_kappa"`
}

// Agreement is the inter-judge agreement section of a report.
type Agreement struct {
	JudgeA         string   `json:"judge_a"`
	JudgeB         string   `json:"judge_b"`
	ItemsCompared  int      `json:"items_compared"`
	ObservedAgree  float64  `json:"observed_agreement"`
	CohensKappa    *float64 `json:"cohens_kappa"`
	AgreementLevel string   `json:"agreement_level,omitempty"`
}

// Report is the top-level statistical output document.
type Report struct {
	Tool        string     `json:"tool"`
	Version     string     `json:"version"`
	GeneratedAt string     `json:"generated_at"`
	Judges      []Summary  `json:"judges"`
	InterJudge  *Agreement `json:"inter_judge,omitempty"`
}
