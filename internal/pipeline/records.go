package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/peerjudge/internal/aggregate"
	"github.com/dshills/peerjudge/internal/checkpoint"
	"github.com/dshills/peerjudge/internal/dataset"
	"github.com/dshills/peerjudge/internal/jsonl"
	"github.com/dshills/peerjudge/internal/render"
	"github.com/dshills/peerjudge/internal/schema"
)

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("pipeline: stat %s: %w", path, err)
}

// loadItemsIfPresent returns no items and no error when the pairs file has
// not been built yet.
func (p *Pipeline) loadItemsIfPresent() ([]schema.Item, error) {
	present, err := fileExists(p.cfg.PairsPath())
	if err != nil || !present {
		return nil, err
	}
	items, _, err := dataset.Load(p.cfg.PairsPath())
	if err != nil && !errors.Is(err, dataset.ErrEmpty) {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return items, nil
}

func (p *Pipeline) loadItems() ([]schema.Item, error) {
	items, stats, err := dataset.Load(p.cfg.PairsPath())
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if stats.Corrupt > 0 {
		p.logger.Warn("pairs file has unreadable lines", "path", p.cfg.PairsPath(), "corrupt", stats.Corrupt)
	}
	return items, nil
}

func validGeneration(r schema.GenerationRecord) bool {
	return r.ItemID != "" && r.Condition.Valid() && r.Text != ""
}

// existingGenerations is the done-set of the generate stage.
func (p *Pipeline) existingGenerations() (checkpoint.Set, jsonl.Stats, error) {
	return checkpoint.Existing(p.cfg.GenerationsPath(), schema.GenerationRecord.Key, validGeneration)
}

// generationTexts maps a generation key to the first valid review text.
func (p *Pipeline) generationTexts() (map[string]string, error) {
	texts := make(map[string]string)
	_, err := jsonl.Scan(p.cfg.GenerationsPath(), func(r schema.GenerationRecord) {
		if !validGeneration(r) {
			return
		}
		if _, ok := texts[r.Key()]; !ok {
			texts[r.Key()] = r.Text
		}
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: read generations: %w", err)
	}
	return texts, nil
}

// validJudgment accepts a record only when it belongs to judgeID, carries a
// usable verdict, and its stored layout matches the assigner. A record whose
// layout disagrees is treated as absent so the item is judged again.
func (p *Pipeline) validJudgment(judgeID string) func(schema.JudgmentRecord) bool {
	return func(r schema.JudgmentRecord) bool {
		if r.ItemID == "" || r.JudgeID != judgeID {
			return false
		}
		if _, ok := aggregate.Outcome(r); !ok {
			return false
		}
		return p.assigner.Matches(r.ItemID, r.CondA, r.CondB)
	}
}

// existingJudgments is the done-set of one judge stage.
func (p *Pipeline) existingJudgments(judgeID string) (checkpoint.Set, jsonl.Stats, error) {
	return checkpoint.Existing(p.cfg.JudgmentsPath(judgeID), schema.JudgmentRecord.Key, p.validJudgment(judgeID))
}

// judgmentSet is one judge's records as handed to the aggregator.
type judgmentSet struct {
	// Records holds the first valid record per item, in file order.
	Records []schema.JudgmentRecord
	// Excluded counts items that only have invalid records.
	Excluded int
	// Mismatched counts records dropped for an assignment mismatch.
	Mismatched int
	Stats      jsonl.Stats
}

func (p *Pipeline) loadJudgments(judgeID string) (judgmentSet, error) {
	var js judgmentSet
	valid := p.validJudgment(judgeID)
	chosen := make(map[string]bool)
	var order []string
	stats, err := jsonl.Scan(p.cfg.JudgmentsPath(judgeID), func(r schema.JudgmentRecord) {
		if r.JudgeID != judgeID || r.ItemID == "" {
			return
		}
		if _, seen := chosen[r.ItemID]; !seen {
			chosen[r.ItemID] = false
			order = append(order, r.ItemID)
		}
		if !valid(r) {
			if _, ok := aggregate.Outcome(r); ok {
				js.Mismatched++
				p.logger.Warn("judgment excluded", "judge", judgeID, "item_id", r.ItemID,
					"reason", "assignment_mismatch", "cond_A", r.CondA, "cond_B", r.CondB)
			}
			return
		}
		if chosen[r.ItemID] {
			return
		}
		chosen[r.ItemID] = true
		js.Records = append(js.Records, r)
	})
	if err != nil {
		return js, fmt.Errorf("pipeline: read judgments %s: %w", judgeID, err)
	}
	for _, id := range order {
		if !chosen[id] {
			js.Excluded++
		}
	}
	js.Stats = stats
	return js, nil
}

func countGenerations(items []schema.Item, done checkpoint.Set) int {
	n := 0
	for _, it := range items {
		for _, c := range schema.Conditions {
			if done.Has(schema.GenerationKey(it.ID, c)) {
				n++
			}
		}
	}
	return n
}

func countJudgments(items []schema.Item, judgeID string, done checkpoint.Set) int {
	n := 0
	for _, it := range items {
		if done.Has(schema.JudgmentKey(it.ID, judgeID)) {
			n++
		}
	}
	return n
}

// reportFresh reports whether the JSON report exists and is not older than
// any judgment file.
func (p *Pipeline) reportFresh() (bool, error) {
	info, err := os.Stat(filepath.Join(p.cfg.ReportsDir(), render.JSONFile))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: stat report: %w", err)
	}
	for _, id := range p.cfg.JudgeIDs() {
		j, err := os.Stat(p.cfg.JudgmentsPath(id))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("pipeline: stat judgments: %w", err)
		}
		if j.ModTime().After(info.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}
