package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dshills/peerjudge/internal/aggregate"
	"github.com/dshills/peerjudge/internal/checkpoint"
	"github.com/dshills/peerjudge/internal/config"
	"github.com/dshills/peerjudge/internal/dataset"
	"github.com/dshills/peerjudge/internal/jsonl"
	"github.com/dshills/peerjudge/internal/llm"
	"github.com/dshills/peerjudge/internal/prompt"
	"github.com/dshills/peerjudge/internal/render"
	"github.com/dshills/peerjudge/internal/schema"
	"github.com/dshills/peerjudge/internal/stats"
)

// buildPairs writes the pairs file from the raw source once. An existing
// pairs file is never rebuilt.
func (p *Pipeline) buildPairs() (checkpoint.RunSummary, error) {
	var sum checkpoint.RunSummary
	present, err := fileExists(p.cfg.PairsPath())
	if err != nil {
		return sum, err
	}
	if present {
		n, err := jsonl.Count[schema.Item](p.cfg.PairsPath())
		if err != nil {
			return sum, fmt.Errorf("pipeline: count pairs: %w", err)
		}
		p.logger.Info("pairs already built", "path", p.cfg.PairsPath(), "pairs", n)
		sum.Skipped = n
		return sum, nil
	}

	raw, scan, err := jsonl.Read[schema.Item](p.cfg.Source)
	if err != nil {
		return sum, fmt.Errorf("pipeline: read source: %w", err)
	}
	if scan.Lines == 0 {
		return sum, fmt.Errorf("pipeline: source %s: %w", p.cfg.Source, dataset.ErrEmpty)
	}
	l := p.cfg.Limits
	items, rep := dataset.Build(raw, dataset.BuildOptions{
		MinPaperChars:       l.MinPaperChars,
		MinGroundTruthChars: l.MinGroundTruthChars,
		PaperMaxChars:       l.PaperMaxChars,
		SampleSize:          l.SampleSize,
		Seed:                p.cfg.Seed,
	})
	p.logger.Info("pairs built", "source", p.cfg.Source, "read", rep.Read, "corrupt", scan.Corrupt,
		"missing_id", rep.MissingID, "duplicates", rep.Duplicates, "short_paper", rep.ShortPaper,
		"short_ground_truth", rep.ShortGroundTruth, "kept", rep.Kept)
	if len(items) == 0 {
		return sum, fmt.Errorf("pipeline: no source item passed the quality gates: %w", dataset.ErrEmpty)
	}
	if err := dataset.Write(p.cfg.PairsPath(), items); err != nil {
		return sum, fmt.Errorf("pipeline: %w", err)
	}
	sum.Processed = len(items)
	sum.Skipped = rep.Read - len(items)
	return sum, nil
}

func (p *Pipeline) client(m config.Model) (*llm.Client, error) {
	c, err := llm.NewClient(llm.Options{
		Provider:    m.Provider,
		Model:       m.Model,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		Debug:       p.cfg.Debug,
	}, p.policy, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return c, nil
}

type genTask struct {
	item schema.Item
	cond schema.Condition
}

func (p *Pipeline) generate(ctx context.Context, st StageInfo) (checkpoint.RunSummary, error) {
	items, err := p.loadItems()
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	done, scan, err := p.existingGenerations()
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	if scan.TornTail {
		p.logger.Warn("ignoring torn trailing record", "stage", st.Name, "path", p.cfg.GenerationsPath())
	}
	tasks := make([]genTask, 0, 2*len(items))
	for _, it := range items {
		for _, c := range schema.Conditions {
			tasks = append(tasks, genTask{item: it, cond: c})
		}
	}
	if countGenerations(items, done) == len(tasks) {
		p.logger.Info("all reviews already generated", "stage", st.Name, "records", len(tasks))
		return checkpoint.RunSummary{Skipped: len(tasks)}, nil
	}

	client, err := p.client(p.cfg.Generation)
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	sink, err := jsonl.OpenSink(p.cfg.GenerationsPath())
	if err != nil {
		return checkpoint.RunSummary{}, fmt.Errorf("pipeline: %w", err)
	}
	defer sink.Close()

	stage := checkpoint.Stage[genTask, schema.GenerationRecord]{
		Name: st.Name,
		Key:  func(t genTask) string { return schema.GenerationKey(t.item.ID, t.cond) },
		Operation: func(ctx context.Context, t genTask) (schema.GenerationRecord, error) {
			return p.generateOne(ctx, client, t)
		},
		Sink:        sink,
		Concurrency: p.cfg.Concurrency,
		Logger:      p.logger,
		Observer:    p.metrics,
	}
	return stage.Run(ctx, tasks, done)
}

func (p *Pipeline) generateOne(ctx context.Context, client *llm.Client, t genTask) (schema.GenerationRecord, error) {
	paper, strategy := prompt.SmartTruncate(t.item.PaperText, p.cfg.Limits.GenerationPaperChars)
	sys, user, err := p.prompts.Generation(t.cond, paper)
	if err != nil {
		return schema.GenerationRecord{}, err
	}
	start := p.now()
	text, err := client.Generate(ctx, sys, user)
	if err != nil {
		return schema.GenerationRecord{}, err
	}
	opts := client.Options()
	return schema.GenerationRecord{
		ItemID:    t.item.ID,
		Condition: t.cond,
		Text:      text,
		Model:     opts.Model,
		Metadata: schema.GenerationMetadata{
			RunID:          p.runID,
			Provider:       opts.Provider,
			Temperature:    opts.Temperature,
			MaxTokens:      opts.MaxTokens,
			PaperTextChars: utf8.RuneCountInString(paper),
			Truncation:     strategy,
			DurationMs:     p.now().Sub(start).Milliseconds(),
			CreatedAt:      start.UTC().Format(time.RFC3339),
		},
	}, nil
}

type judgeTask struct {
	item    schema.Item
	reviewA string
	reviewB string
	condA   schema.Condition
	condB   schema.Condition
}

func (p *Pipeline) judgeConfig(id string) (config.Judge, error) {
	for _, j := range p.cfg.Judges {
		if j.ID == id {
			return j, nil
		}
	}
	return config.Judge{}, fmt.Errorf("pipeline: unknown judge %q", id)
}

// judge runs one judge over every item whose two reviews exist. Items with
// a missing review are left out and reported as a PreconditionError after
// the available items have been judged.
func (p *Pipeline) judge(ctx context.Context, st StageInfo) (checkpoint.RunSummary, error) {
	jc, err := p.judgeConfig(st.JudgeID)
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	items, err := p.loadItems()
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	texts, err := p.generationTexts()
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	done, scan, err := p.existingJudgments(jc.ID)
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	if scan.TornTail {
		p.logger.Warn("ignoring torn trailing record", "stage", st.Name, "path", p.cfg.JudgmentsPath(jc.ID))
	}

	var (
		tasks   []judgeTask
		missing []string
	)
	for _, it := range items {
		condA, condB := p.assigner.Assign(it.ID)
		a, okA := texts[schema.GenerationKey(it.ID, condA)]
		b, okB := texts[schema.GenerationKey(it.ID, condB)]
		if !okA || !okB {
			if !done.Has(schema.JudgmentKey(it.ID, jc.ID)) {
				missing = append(missing, it.ID)
			}
			continue
		}
		tasks = append(tasks, judgeTask{item: it, reviewA: a, reviewB: b, condA: condA, condB: condB})
	}
	precondition := func() error {
		if len(missing) == 0 {
			return nil
		}
		p.logger.Warn("items skipped for missing reviews", "stage", st.Name, "items", len(missing))
		return &PreconditionError{Stage: st.Name, Missing: missing}
	}
	if len(tasks) == 0 {
		return checkpoint.RunSummary{}, precondition()
	}

	pending := 0
	for _, t := range tasks {
		if !done.Has(schema.JudgmentKey(t.item.ID, jc.ID)) {
			pending++
		}
	}
	if pending == 0 {
		p.logger.Info("all items already judged", "stage", st.Name, "records", len(tasks))
		return checkpoint.RunSummary{Skipped: len(tasks)}, precondition()
	}

	client, err := p.client(jc.Model)
	if err != nil {
		return checkpoint.RunSummary{}, err
	}
	sink, err := jsonl.OpenSink(p.cfg.JudgmentsPath(jc.ID))
	if err != nil {
		return checkpoint.RunSummary{}, fmt.Errorf("pipeline: %w", err)
	}
	defer sink.Close()

	stage := checkpoint.Stage[judgeTask, schema.JudgmentRecord]{
		Name: st.Name,
		Key:  func(t judgeTask) string { return schema.JudgmentKey(t.item.ID, jc.ID) },
		Operation: func(ctx context.Context, t judgeTask) (schema.JudgmentRecord, error) {
			return p.judgeOne(ctx, client, jc.ID, t)
		},
		Sink:        sink,
		Concurrency: p.cfg.Concurrency,
		Logger:      p.logger,
		Observer:    p.metrics,
	}
	sum, err := stage.Run(ctx, tasks, done)
	if err != nil {
		return sum, err
	}
	return sum, precondition()
}

func (p *Pipeline) judgeOne(ctx context.Context, client *llm.Client, judgeID string, t judgeTask) (schema.JudgmentRecord, error) {
	paper := prompt.TruncateHead(t.item.PaperText, p.cfg.Limits.JudgePaperChars)
	gt := prompt.TruncateHead(t.item.GroundTruth, p.cfg.Limits.JudgeGroundTruth)
	sys, user := p.prompts.Judging(paper, gt, t.reviewA, t.reviewB)
	v, err := client.Judge(ctx, sys, user)
	if err != nil {
		return schema.JudgmentRecord{}, err
	}
	return schema.JudgmentRecord{
		ItemID:    t.item.ID,
		JudgeID:   judgeID,
		CondA:     t.condA,
		CondB:     t.condB,
		Winner:    v.Winner,
		Reasoning: v.Reasoning,
		Model:     client.Options().Model,
	}, nil
}

// summarize recomputes every report from the judgment files and rewrites
// the report directory wholesale.
func (p *Pipeline) summarize(allowPartial bool) (*schema.Report, []string, error) {
	const stageName = "summarize"
	items, err := p.loadItemsIfPresent()
	if err != nil {
		return nil, nil, err
	}

	var incomplete []string
	sets := make(map[string]judgmentSet, len(p.cfg.Judges))
	total := 0
	for _, id := range p.cfg.JudgeIDs() {
		js, err := p.loadJudgments(id)
		if err != nil {
			return nil, nil, err
		}
		sets[id] = js
		total += len(js.Records)
		done, _, err := p.existingJudgments(id)
		if err != nil {
			return nil, nil, err
		}
		if len(items) == 0 || countJudgments(items, id, done) < len(items) {
			incomplete = append(incomplete, id)
		}
	}
	if total == 0 {
		return nil, nil, &PreconditionError{Stage: stageName, Missing: p.cfg.JudgeIDs()}
	}
	if len(incomplete) > 0 {
		if !allowPartial {
			return nil, nil, &PreconditionError{Stage: stageName, Missing: incomplete}
		}
		p.logger.Warn("summarizing incomplete judgments", "judges", incomplete)
	}

	report := &schema.Report{
		Tool:        "peerjudge",
		Version:     p.version,
		GeneratedAt: p.now().UTC().Format(time.RFC3339),
	}
	for _, id := range p.cfg.JudgeIDs() {
		js := sets[id]
		c := aggregate.Aggregate(js.Records)
		s := stats.Summarize(id, c.PeerWins, c.VanillaWins, c.Ties, c.Excluded+js.Excluded)
		p.logger.Info("judge summarized", "judge", id, "examples", s.NumExamples,
			"peer_wins", s.PeerWins, "vanilla_wins", s.VanillaWins, "ties", s.Ties,
			"excluded", s.Excluded, "assignment_mismatch", js.Mismatched)
		report.Judges = append(report.Judges, s)
	}

	if ids := p.cfg.JudgeIDs(); len(ids) >= 2 {
		a, b := ids[0], ids[1]
		paired := aggregate.Pair(sets[a].Records, sets[b].Records)
		k := stats.CohensKappa(paired.A, paired.B)
		ag := &schema.Agreement{
			JudgeA:        a,
			JudgeB:        b,
			ItemsCompared: k.N,
			ObservedAgree: k.Observed,
			CohensKappa:   k.Value,
		}
		if k.Value != nil {
			ag.AgreementLevel = stats.AgreementLevel(*k.Value)
		}
		report.InterJudge = ag
		for i := range report.Judges {
			report.Judges[i].CohensKappa = k.Value
		}
	}

	paths, err := render.WriteReports(p.cfg.ReportsDir(), report)
	if err != nil {
		return report, paths, fmt.Errorf("pipeline: %w", err)
	}
	p.logger.Info("reports written", "dir", p.cfg.ReportsDir(), "files", len(paths))
	return report, paths, nil
}
