// Package render produces output from a fully assembled schema.Report.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dshills/peerjudge/internal/schema"
)

// Report file names written by WriteReports.
const (
	SummaryFile  = "summary.jsonl"
	JSONFile     = "statistical_tests.json"
	MarkdownFile = "statistical_tests.md"
	CSVFile      = "pairwise_summary.csv"
)

// RenderJSON produces a pretty-printed JSON representation of the report.
// The output round-trips through json.Unmarshal back to an equal Report.
func RenderJSON(report *schema.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return append(b, '\n'), nil
}

// RenderSummaryJSONL writes one Summary object per line.
func RenderSummaryJSONL(summaries []schema.Summary) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range summaries {
		if err := enc.Encode(s); err != nil {
			return nil, fmt.Errorf("render: summary %s: %w", s.Judge, err)
		}
	}
	return buf.Bytes(), nil
}

// RenderCSV produces the per-judge win table: one row per judge and
// outcome. Undefined rates are left empty.
func RenderCSV(summaries []schema.Summary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"judge", "condition", "wins", "win_rate_total", "win_rate_non_tie"}}
	for _, s := range summaries {
		rows = append(rows,
			[]string{s.Judge, "peer", strconv.Itoa(s.PeerWins), csvFloat(s.PeerWinRateTotal), csvFloat(s.PeerWinRateNonTie)},
			[]string{s.Judge, "vanilla", strconv.Itoa(s.VanillaWins), csvFloat(s.VanillaWinRateTotal), csvFloat(s.VanillaWinRateNonTie)},
			[]string{s.Judge, "tie", strconv.Itoa(s.Ties), csvFloat(s.TieRateTotal), ""},
		)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("render: csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary of the report.
// Statistics that are undefined for the observed counts render as "n/a".
func RenderMarkdown(report *schema.Report) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("# Statistical Significance Tests\n\n")
	if report.GeneratedAt != "" {
		fmt.Fprintf(&sb, "_Generated %s by %s %s._\n\n", report.GeneratedAt, report.Tool, report.Version)
	}

	if len(report.Judges) > 0 {
		sb.WriteString("| Judge | N | Peer | Vanilla | Tie | Peer rate (non-tie) | 95% CI | p-value | Cohen's h |\n")
		sb.WriteString("|---|---|---|---|---|---|---|---|---|\n")
		for _, s := range report.Judges {
			fmt.Fprintf(&sb, "| %s | %d | %d | %d | %d | %s | %s | %s | %s |\n",
				mdEscape(s.Judge), s.NumExamples, s.PeerWins, s.VanillaWins, s.Ties,
				fmtFloat(s.PeerWinRateNonTie, 3), fmtInterval(s.WilsonCILow, s.WilsonCIHigh),
				fmtFloat(s.BinomialPValue, 6), fmtEffect(s.CohensH, s.EffectSize))
		}
		sb.WriteString("\n")
	}

	for _, s := range report.Judges {
		fmt.Fprintf(&sb, "## %s\n\n", mdEscape(s.Judge))
		fmt.Fprintf(&sb, "- Total examples: %d\n", s.NumExamples)
		fmt.Fprintf(&sb, "- Peer wins: %d\n", s.PeerWins)
		fmt.Fprintf(&sb, "- Vanilla wins: %d\n", s.VanillaWins)
		fmt.Fprintf(&sb, "- Ties: %d\n", s.Ties)
		if s.Excluded > 0 {
			fmt.Fprintf(&sb, "- Excluded records: %d\n", s.Excluded)
		}
		sb.WriteString("\n### Win rates (over all examples)\n\n")
		fmt.Fprintf(&sb, "- Peer: %s\n", fmtFloat(s.PeerWinRateTotal, 3))
		fmt.Fprintf(&sb, "- Vanilla: %s\n", fmtFloat(s.VanillaWinRateTotal, 3))
		fmt.Fprintf(&sb, "- Tie: %s\n", fmtFloat(s.TieRateTotal, 3))
		sb.WriteString("\n### Win rates (excluding ties)\n\n")
		fmt.Fprintf(&sb, "- Peer: %s\n", fmtFloat(s.PeerWinRateNonTie, 3))
		fmt.Fprintf(&sb, "- Vanilla: %s\n", fmtFloat(s.VanillaWinRateNonTie, 3))
		fmt.Fprintf(&sb, "- 95%% Wilson CI (peer): %s\n", fmtInterval(s.WilsonCILow, s.WilsonCIHigh))
		sb.WriteString("\n### Significance\n\n")
		fmt.Fprintf(&sb, "- Binomial test p-value: %s\n", fmtFloat(s.BinomialPValue, 6))
		significant := "no"
		if s.SignificantAt005 {
			significant = "yes"
		}
		fmt.Fprintf(&sb, "- Significant at α=0.05: %s\n", significant)
		fmt.Fprintf(&sb, "- Cohen's h: %s\n\n", fmtEffect(s.CohensH, s.EffectSize))
		sb.WriteString("---\n\n")
	}

	if ij := report.InterJudge; ij != nil {
		sb.WriteString("## Inter-Judge Agreement\n\n")
		fmt.Fprintf(&sb, "- Judges: %s vs %s\n", mdEscape(ij.JudgeA), mdEscape(ij.JudgeB))
		fmt.Fprintf(&sb, "- Items compared: %d\n", ij.ItemsCompared)
		fmt.Fprintf(&sb, "- Observed agreement: %.3f\n", ij.ObservedAgree)
		fmt.Fprintf(&sb, "- Cohen's κ: %s\n", fmtFloat(ij.CohensKappa, 3))
		level := ij.AgreementLevel
		if level == "" {
			level = "n/a"
		}
		fmt.Fprintf(&sb, "- Agreement level: %s\n", level)
	}

	return sb.String()
}

func fmtFloat(v *float64, prec int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func fmtInterval(low, high *float64) string {
	if low == nil || high == nil {
		return "n/a"
	}
	return fmt.Sprintf("[%.3f, %.3f]", *low, *high)
}

func fmtEffect(h *float64, label string) string {
	if h == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f (%s)", *h, label)
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// WriteFileAtomic replaces path with data by writing a sibling temp file and
// renaming it over the target, so readers never see a partial report.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("render: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("render: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("render: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("render: rename to %s: %w", path, err)
	}
	return nil
}

// WriteReports renders every report format into dir and returns the paths
// written, in a fixed order.
func WriteReports(dir string, report *schema.Report) ([]string, error) {
	if report == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	jsonBytes, err := RenderJSON(report)
	if err != nil {
		return nil, err
	}
	jsonlBytes, err := RenderSummaryJSONL(report.Judges)
	if err != nil {
		return nil, err
	}
	csvBytes, err := RenderCSV(report.Judges)
	if err != nil {
		return nil, err
	}
	outputs := []struct {
		name string
		data []byte
	}{
		{SummaryFile, jsonlBytes},
		{JSONFile, jsonBytes},
		{MarkdownFile, []byte(RenderMarkdown(report))},
		{CSVFile, csvBytes},
	}
	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		p := filepath.Join(dir, o.name)
		if err := WriteFileAtomic(p, o.data); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
