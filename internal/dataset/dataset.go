// Package dataset loads the item list the pipeline runs over and builds it
// from a raw source file with quality gates and seeded sampling.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/peerjudge/internal/jsonl"
	"github.com/dshills/peerjudge/internal/prompt"
	"github.com/dshills/peerjudge/internal/schema"
)

// ErrEmpty is returned when a dataset has no usable items.
var ErrEmpty = errors.New("dataset: no items")

// Load reads the pairs file. Item IDs must be non-empty and unique; corrupt
// lines are reported in the returned stats and skipped.
func Load(path string) ([]schema.Item, jsonl.Stats, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, jsonl.Stats{}, fmt.Errorf("dataset: %w", err)
	}
	items, stats, err := jsonl.Read[schema.Item](path)
	if err != nil {
		return nil, stats, fmt.Errorf("dataset: load: %w", err)
	}
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return nil, stats, fmt.Errorf("dataset: %s: item %d has an empty paper_id", path, i+1)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, stats, fmt.Errorf("dataset: %s: duplicate paper_id %q", path, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	if len(items) == 0 {
		return nil, stats, fmt.Errorf("%w in %s", ErrEmpty, path)
	}
	return items, stats, nil
}

// BuildOptions controls Build.
type BuildOptions struct {
	MinPaperChars       int
	MinGroundTruthChars int
	// PaperMaxChars clips paper text; zero disables clipping.
	PaperMaxChars int
	// SampleSize keeps a random subset of that many items; zero keeps all.
	SampleSize int
	Seed       int64
}

// BuildReport counts what Build kept and dropped.
type BuildReport struct {
	Read               int `json:"read"`
	MissingID          int `json:"missing_id"`
	Duplicates         int `json:"duplicates"`
	ShortPaper         int `json:"short_paper"`
	ShortGroundTruth   int `json:"short_ground_truth"`
	PassedQualityGates int `json:"passed_quality_gates"`
	Kept               int `json:"kept"`
}

// Build filters raw items through the quality gates, clips paper text, and
// optionally samples. Source order is preserved. Lengths are measured after
// whitespace trimming and count runes.
func Build(raw []schema.Item, opts BuildOptions) ([]schema.Item, BuildReport) {
	rep := BuildReport{Read: len(raw)}
	seen := make(map[string]struct{}, len(raw))
	var kept []schema.Item
	for _, it := range raw {
		it.ID = strings.TrimSpace(it.ID)
		it.PaperText = strings.TrimSpace(it.PaperText)
		it.GroundTruth = strings.TrimSpace(it.GroundTruth)
		if it.ID == "" {
			rep.MissingID++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			rep.Duplicates++
			continue
		}
		seen[it.ID] = struct{}{}
		if utf8.RuneCountInString(it.PaperText) < opts.MinPaperChars {
			rep.ShortPaper++
			continue
		}
		if utf8.RuneCountInString(it.GroundTruth) < opts.MinGroundTruthChars {
			rep.ShortGroundTruth++
			continue
		}
		it.PaperText = prompt.Clip(it.PaperText, opts.PaperMaxChars)
		kept = append(kept, it)
	}
	rep.PassedQualityGates = len(kept)
	kept = Sample(kept, opts.SampleSize, opts.Seed)
	rep.Kept = len(kept)
	return kept, rep
}

// Sample returns n items chosen by a generator seeded with seed, in their
// original order. n <= 0 or n >= len(items) returns items unchanged. The
// generator is independent of the A/B assignment.
func Sample(items []schema.Item, n int, seed int64) []schema.Item {
	if n <= 0 || n >= len(items) {
		return items
	}
	r := rand.New(rand.NewPCG(uint64(seed), 0))
	idx := r.Perm(len(items))[:n]
	sort.Ints(idx)
	out := make([]schema.Item, 0, n)
	for _, i := range idx {
		out = append(out, items[i])
	}
	return out
}

// Write stores items at path, replacing any existing file atomically.
func Write(path string, items []schema.Item) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dataset: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("dataset: create temp: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	sink, err := jsonl.OpenSink(tmpName)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	for _, it := range items {
		if err := sink.Append(it); err != nil {
			sink.Close()
			return fmt.Errorf("dataset: %w", err)
		}
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("dataset: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("dataset: rename: %w", err)
	}
	return nil
}
