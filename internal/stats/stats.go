// Package stats computes win rates, significance tests, confidence intervals,
// effect sizes and inter-rater agreement for pairwise judgments. All
// functions are deterministic; no LLM calls are made here.
package stats

import (
	"math"

	"github.com/dshills/peerjudge/internal/schema"
)

// Z975 is the 97.5th percentile of the standard normal distribution.
const Z975 = 1.959963984540054

// Ratio returns num/den, or nil when den is zero.
func Ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// BinomialTwoSided returns the exact two-sided p-value for observing k
// successes in n trials under success probability p0. Outcomes whose
// probability does not exceed that of k (within a relative tolerance of
// 1e-7) are counted as at least as extreme. ok is false when n is zero or
// the arguments are out of range.
func BinomialTwoSided(k, n int, p0 float64) (p float64, ok bool) {
	if n <= 0 || k < 0 || k > n || p0 <= 0 || p0 >= 1 {
		return 0, false
	}
	observed := binomialPMF(k, n, p0)
	limit := observed * (1 + 1e-7)
	total := 0.0
	for i := 0; i <= n; i++ {
		if pi := binomialPMF(i, n, p0); pi <= limit {
			total += pi
		}
	}
	return math.Min(total, 1), true
}

func binomialPMF(k, n int, p float64) float64 {
	return math.Exp(logChoose(n, k) + float64(k)*math.Log(p) + float64(n-k)*math.Log1p(-p))
}

func logChoose(n, k int) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

// Wilson returns the Wilson score interval for k successes in n trials at
// the given z, clamped to [0, 1]. ok is false when n is zero.
func Wilson(k, n int, z float64) (low, high float64, ok bool) {
	if n <= 0 || k < 0 || k > n {
		return 0, 0, false
	}
	nf := float64(n)
	phat := float64(k) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (phat + z2/(2*nf)) / denom
	spread := z * math.Sqrt(phat*(1-phat)/nf+z2/(4*nf*nf)) / denom
	return math.Max(0, center-spread), math.Min(1, center+spread), true
}

// CohensH returns the arcsine effect size between two proportions.
func CohensH(p1, p2 float64) float64 {
	return 2*math.Asin(math.Sqrt(p1)) - 2*math.Asin(math.Sqrt(p2))
}

// EffectSize labels the magnitude of Cohen's h.
func EffectSize(h float64) string {
	switch a := math.Abs(h); {
	case a < 0.2:
		return "negligible"
	case a < 0.5:
		return "small"
	case a < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// Kappa holds Cohen's kappa and its components.
type Kappa struct {
	N        int
	Observed float64
	Expected float64
	// Value is nil when kappa is undefined: no pairs, or chance agreement
	// of 1 (both raters constant on the same category).
	Value *float64
}

// CohensKappa computes agreement between two raters' labels over the same
// items, in order. Categories are the union of labels seen. Extra labels on
// the longer slice are ignored.
func CohensKappa[L comparable](a, b []L) Kappa {
	n := min(len(a), len(b))
	k := Kappa{N: n}
	if n == 0 {
		return k
	}
	countA := make(map[L]int)
	countB := make(map[L]int)
	// Categories in first-seen order keep the float sum reproducible.
	var cats []L
	agree := 0
	for i := 0; i < n; i++ {
		if _, ok := countA[a[i]]; !ok {
			cats = append(cats, a[i])
		}
		countA[a[i]]++
		countB[b[i]]++
		if a[i] == b[i] {
			agree++
		}
	}
	nf := float64(n)
	k.Observed = float64(agree) / nf
	for _, cat := range cats {
		k.Expected += (float64(countA[cat]) / nf) * (float64(countB[cat]) / nf)
	}
	if k.Expected >= 1-1e-12 {
		return k
	}
	v := (k.Observed - k.Expected) / (1 - k.Expected)
	k.Value = &v
	return k
}

// AgreementLevel labels kappa on the Landis-Koch scale.
func AgreementLevel(kappa float64) string {
	switch {
	case kappa < 0:
		return "poor"
	case kappa < 0.20:
		return "slight"
	case kappa < 0.40:
		return "fair"
	case kappa < 0.60:
		return "moderate"
	case kappa < 0.80:
		return "substantial"
	default:
		return "almost_perfect"
	}
}

// Summarize builds the per-judge statistical summary from condition-relative
// counts. Excluded records are reported but take no part in any rate.
// CohensKappa is left nil; it is a property of a judge pair.
func Summarize(judge string, peerWins, vanillaWins, ties, excluded int) schema.Summary {
	total := peerWins + vanillaWins + ties
	nonTie := peerWins + vanillaWins
	s := schema.Summary{
		Judge:                judge,
		NumExamples:          total,
		PeerWins:             peerWins,
		VanillaWins:          vanillaWins,
		Ties:                 ties,
		Excluded:             excluded,
		PeerWinRateTotal:     Ratio(peerWins, total),
		VanillaWinRateTotal:  Ratio(vanillaWins, total),
		TieRateTotal:         Ratio(ties, total),
		PeerWinRateNonTie:    Ratio(peerWins, nonTie),
		VanillaWinRateNonTie: Ratio(vanillaWins, nonTie),
	}
	if p, ok := BinomialTwoSided(peerWins, nonTie, 0.5); ok {
		s.BinomialPValue = &p
		s.SignificantAt005 = p < 0.05
	}
	if lo, hi, ok := Wilson(peerWins, nonTie, Z975); ok {
		s.WilsonCILow, s.WilsonCIHigh = &lo, &hi
	}
	if s.PeerWinRateNonTie != nil {
		h := CohensH(*s.PeerWinRateNonTie, 0.5)
		s.CohensH = &h
		s.EffectSize = EffectSize(h)
	}
	return s
}
