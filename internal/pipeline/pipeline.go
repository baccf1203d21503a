// Package pipeline sequences the experiment stages: build pairs, generate
// reviews for both conditions, judge each pair blind with every configured
// judge, and summarize. Every stage derives its progress from the records
// already on disk, so a run can be interrupted and resumed at any point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/peerjudge/internal/assign"
	"github.com/dshills/peerjudge/internal/checkpoint"
	"github.com/dshills/peerjudge/internal/config"
	"github.com/dshills/peerjudge/internal/llm"
	"github.com/dshills/peerjudge/internal/metrics"
	"github.com/dshills/peerjudge/internal/prompt"
	"github.com/dshills/peerjudge/internal/schema"
)

// ErrMissingPrecondition is wrapped by every PreconditionError.
var ErrMissingPrecondition = errors.New("pipeline: missing precondition")

// PreconditionError reports a stage whose inputs are not all available.
// Missing lists item IDs, or judge IDs for the summarize stage.
type PreconditionError struct {
	Stage   string
	Missing []string
}

func (e *PreconditionError) Error() string {
	const show = 5
	ids := e.Missing
	more := ""
	if len(ids) > show {
		more = fmt.Sprintf(" and %d more", len(ids)-show)
		ids = ids[:show]
	}
	return fmt.Sprintf("pipeline: %s: missing precondition for %d input(s): %s%s",
		e.Stage, len(e.Missing), strings.Join(ids, ", "), more)
}

func (e *PreconditionError) Unwrap() error { return ErrMissingPrecondition }

// Stage kinds.
const (
	KindPairs     = "pairs"
	KindGenerate  = "generate"
	KindJudge     = "judge"
	KindSummarize = "summarize"
)

// StageInfo names one entry of the stage table. Number 0 is the
// pre-experiment build-pairs stage; the experiment proper runs 1..N.
type StageInfo struct {
	Number  int    `json:"number"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	JudgeID string `json:"judge_id,omitempty"`
}

// State is the completion state of a stage.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateComplete   State = "COMPLETE"
)

// StageStatus is the read-only progress view of one stage.
type StageStatus struct {
	StageInfo
	Expected  int   `json:"expected"`
	Completed int   `json:"completed"`
	Remaining int   `json:"remaining"`
	State     State `json:"state"`
}

func newStatus(info StageInfo, expected, completed int) StageStatus {
	s := StageStatus{StageInfo: info, Expected: expected, Completed: completed}
	s.Remaining = max(expected-completed, 0)
	switch {
	case completed == 0:
		s.State = StateNotStarted
	case expected > 0 && completed >= expected:
		s.State = StateComplete
	default:
		s.State = StateInProgress
	}
	return s
}

// Options configures a Pipeline.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// Version is stamped into reports.
	Version string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs the experiment for one immutable configuration.
type Pipeline struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	prompts  prompt.Set
	assigner assign.Assigner
	policy   *llm.Policy
	version  string
	now      func() time.Time
	runID    string
}

// New prepares a pipeline. Prompt templates are resolved here so a bad
// override file fails before any stage starts. No provider is contacted.
func New(cfg config.Config, opts Options) (*Pipeline, error) {
	prompts, err := prompt.LoadSet(prompt.Files{
		Peer:    cfg.Prompts.Peer,
		Vanilla: cfg.Prompts.Vanilla,
		Judge:   cfg.Prompts.Judge,
		Skill:   cfg.Prompts.Skill,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		prompts:  prompts,
		assigner: assign.New(cfg.Seed),
		policy: llm.NewPolicy(llm.PolicyConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialInterval:   cfg.Retry.InitialInterval,
			MaxInterval:       cfg.Retry.MaxInterval,
			RequestsPerMinute: cfg.Retry.RequestsPerMinute,
		}, logger),
		version: version,
		now:     now,
		runID:   runID,
	}, nil
}

// RunID identifies this pipeline instance in logs and generation metadata.
func (p *Pipeline) RunID() string { return p.runID }

// Stages returns the stage table: build pairs, generate, one judge stage per
// configured judge, summarize.
func (p *Pipeline) Stages() []StageInfo {
	stages := []StageInfo{
		{Number: 0, Name: "build-pairs", Kind: KindPairs},
		{Number: 1, Name: "generate", Kind: KindGenerate},
	}
	for _, id := range p.cfg.JudgeIDs() {
		stages = append(stages, StageInfo{Number: len(stages), Name: "judge:" + id, Kind: KindJudge, JudgeID: id})
	}
	stages = append(stages, StageInfo{Number: len(stages), Name: "summarize", Kind: KindSummarize})
	return stages
}

// LastStage is the number of the summarize stage.
func (p *Pipeline) LastStage() int { return len(p.cfg.Judges) + 2 }

// Status reports per-stage progress. It reads output files only and never
// creates, repairs or writes anything.
func (p *Pipeline) Status() ([]StageStatus, error) {
	items, err := p.loadItemsIfPresent()
	if err != nil {
		return nil, err
	}
	stages := p.Stages()
	out := make([]StageStatus, 0, len(stages))
	for _, st := range stages {
		var s StageStatus
		switch st.Kind {
		case KindPairs:
			s = newStatus(st, len(items), len(items))
		case KindGenerate:
			done, _, err := p.existingGenerations()
			if err != nil {
				return nil, err
			}
			s = newStatus(st, 2*len(items), countGenerations(items, done))
		case KindJudge:
			done, _, err := p.existingJudgments(st.JudgeID)
			if err != nil {
				return nil, err
			}
			s = newStatus(st, len(items), countJudgments(items, st.JudgeID, done))
		case KindSummarize:
			fresh, err := p.reportFresh()
			if err != nil {
				return nil, err
			}
			completed := 0
			if fresh {
				completed = 1
			}
			s = newStatus(st, 1, completed)
		}
		out = append(out, s)
	}
	return out, nil
}

// Stage returns a pointer to n for RunOptions.From and RunOptions.Step.
func Stage(n int) *int { return &n }

// RunOptions selects which stages Run executes.
type RunOptions struct {
	// From starts at this stage number and runs to the end. Nil means 1.
	From *int
	// Step runs only this stage number. It takes precedence over From.
	Step *int
	// AllowPartial lets summarize run before every judge stage is complete.
	AllowPartial bool
}

// StageResult is the outcome of one executed stage.
type StageResult struct {
	StageInfo
	checkpoint.RunSummary
	// Reports lists files written by the summarize stage.
	Reports []string `json:"reports,omitempty"`
}

// RunReport lists the stages Run executed, in order.
type RunReport struct {
	RunID  string         `json:"run_id"`
	Stages []StageResult  `json:"stages"`
	Report *schema.Report `json:"report,omitempty"`
}

func (p *Pipeline) selectStages(opts RunOptions) ([]StageInfo, error) {
	last := p.LastStage()
	from, to := 1, last
	switch {
	case opts.Step != nil:
		n := *opts.Step
		if n < 0 || n > last {
			return nil, fmt.Errorf("pipeline: step %d out of range 0..%d", n, last)
		}
		from, to = n, n
	case opts.From != nil:
		n := *opts.From
		if n < 0 || n > last {
			return nil, fmt.Errorf("pipeline: from %d out of range 0..%d", n, last)
		}
		from = n
	}
	var sel []StageInfo
	for _, st := range p.Stages() {
		if st.Number >= from && st.Number <= to {
			sel = append(sel, st)
		}
	}
	return sel, nil
}

// Run executes the selected stages in order. The build-pairs stage always
// runs first when the pairs file is missing. A stage error, including a
// PreconditionError, stops the run before the next stage. When ctx is
// cancelled the running stage finishes its in-flight items and Run returns
// ctx's error; a later Run resumes from the records on disk.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	rep := RunReport{RunID: p.runID}
	selected, err := p.selectStages(opts)
	if err != nil {
		return rep, err
	}
	defer p.writeMetrics()

	if len(selected) == 0 || selected[0].Kind != KindPairs {
		if present, err := fileExists(p.cfg.PairsPath()); err != nil {
			return rep, err
		} else if !present {
			selected = append([]StageInfo{p.Stages()[0]}, selected...)
		}
	}

	p.logger.Info("run starting", "stages", len(selected), "data_dir", p.cfg.DataDir)
	for _, st := range selected {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("run stopped before stage", "stage", st.Name)
			return rep, err
		}
		p.logger.Info("stage starting", "stage", st.Name, "number", st.Number)
		res, err := p.runStage(ctx, st, opts)
		rep.Stages = append(rep.Stages, res.result)
		if res.report != nil {
			rep.Report = res.report
		}
		if err != nil {
			return rep, err
		}
	}
	p.logger.Info("run finished", "stages", len(rep.Stages))
	return rep, nil
}

type stageOutput struct {
	result StageResult
	report *schema.Report
}

func (p *Pipeline) runStage(ctx context.Context, st StageInfo, opts RunOptions) (stageOutput, error) {
	out := stageOutput{result: StageResult{StageInfo: st}}
	var err error
	switch st.Kind {
	case KindPairs:
		out.result.RunSummary, err = p.buildPairs()
	case KindGenerate:
		out.result.RunSummary, err = p.generate(ctx, st)
	case KindJudge:
		out.result.RunSummary, err = p.judge(ctx, st)
	case KindSummarize:
		out.report, out.result.Reports, err = p.summarize(opts.AllowPartial)
		if err == nil {
			out.result.Processed = 1
		}
	default:
		err = fmt.Errorf("pipeline: unknown stage kind %q", st.Kind)
	}
	return out, err
}

// Summarize runs only the summarize stage.
func (p *Pipeline) Summarize(allowPartial bool) (*schema.Report, []string, error) {
	defer p.writeMetrics()
	return p.summarize(allowPartial)
}

// writeMetrics refreshes the completed-record gauges and dumps the registry
// next to the reports. Failures are logged only.
func (p *Pipeline) writeMetrics() {
	if p.metrics == nil {
		return
	}
	if statuses, err := p.Status(); err == nil {
		for _, s := range statuses {
			p.metrics.Completed(s.Name, s.Completed)
		}
	}
	path := filepath.Join(p.cfg.ReportsDir(), "metrics.prom")
	if err := p.metrics.WriteTextfile(path); err != nil {
		p.logger.Warn("metrics not written", "path", path, "error", err)
	}
}
