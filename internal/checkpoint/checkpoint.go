// Package checkpoint runs one pipeline stage over an ordered task list,
// persisting one record per successful task and skipping tasks whose key is
// already present in the stage output.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/peerjudge/internal/jsonl"
)

// Set is the collection of keys already present in a stage output.
type Set map[string]struct{}

// Has reports whether key is in the set.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key.
func (s Set) Add(key string) { s[key] = struct{}{} }

// Existing scans path once and returns the keys of every record that parses
// and passes valid. A nil valid accepts every parsed record. Unparseable
// lines, including a torn trailing line, are treated as absent.
func Existing[R any](path string, key func(R) string, valid func(R) bool) (Set, jsonl.Stats, error) {
	done := make(Set)
	stats, err := jsonl.Scan(path, func(rec R) {
		if valid == nil || valid(rec) {
			done.Add(key(rec))
		}
	})
	if err != nil {
		return nil, stats, fmt.Errorf("checkpoint: scan existing output: %w", err)
	}
	return done, stats, nil
}

// Appender is the append-only record writer a stage persists into.
type Appender interface {
	Append(v any) error
}

// Observer receives per-item progress. metrics.Recorder satisfies it.
type Observer interface {
	Item(stage, outcome string)
	Duration(stage string, d time.Duration)
}

// Failure records a task that did not produce a record in this run.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RunSummary counts what a stage run did.
type RunSummary struct {
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Failures    []Failure `json:"failures,omitempty"`
	Interrupted bool      `json:"interrupted"`
}

// Stage describes one checkpointed stage. T is the task type, R the record
// type written to Sink.
type Stage[T, R any] struct {
	Name string
	// Key identifies a task; it must equal the key of the record it yields.
	Key func(T) string
	// Operation produces the record for one task. Retry policy, if any,
	// belongs to the operation.
	Operation func(ctx context.Context, task T) (R, error)
	Sink      Appender
	// Concurrency bounds in-flight operations. Values below 1 mean 1.
	Concurrency int
	Logger      *slog.Logger
	Observer    Observer
}

// Run processes tasks in order. A task whose key is in done is skipped
// without invoking Operation. A successful record is appended to Sink before
// the task is counted as processed. Operation errors are recorded in the
// summary and do not stop the run.
//
// Cancelling ctx stops dispatch of further tasks; tasks already in flight
// run to completion with a context that is detached from ctx, so no record
// is ever abandoned half way. Run then returns ctx's error with
// Interrupted set. A sink write failure is fatal and returned.
func (s Stage[T, R]) Run(ctx context.Context, tasks []T, done Set) (RunSummary, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		sum RunSummary
	)
	seen := make(Set, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, task := range tasks {
		key := s.Key(task)
		if done.Has(key) || seen.Has(key) {
			mu.Lock()
			sum.Skipped++
			mu.Unlock()
			s.observe(OutcomeSkipped, 0)
			continue
		}
		seen.Add(key)

		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Re-check after acquiring a slot; a cancel may have arrived
			// while this goroutine waited.
			if gctx.Err() != nil {
				return nil
			}
			start := time.Now()
			rec, err := s.Operation(context.WithoutCancel(gctx), task)
			elapsed := time.Since(start)
			if err != nil {
				logger.Warn("item failed", "stage", s.Name, "key", key, "error", err)
				mu.Lock()
				sum.Failed++
				sum.Failures = append(sum.Failures, Failure{Key: key, Reason: err.Error()})
				mu.Unlock()
				s.observe(OutcomeFailed, elapsed)
				return nil
			}
			if err := s.Sink.Append(rec); err != nil {
				return fmt.Errorf("checkpoint: %s: persist %s: %w", s.Name, key, err)
			}
			logger.Info("item recorded", "stage", s.Name, "key", key, "duration_ms", elapsed.Milliseconds())
			mu.Lock()
			sum.Processed++
			mu.Unlock()
			s.observe(OutcomeProcessed, elapsed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		sum.Interrupted = true
		logger.Warn("stage interrupted", "stage", s.Name,
			"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
		return sum, err
	}
	logger.Info("stage finished", "stage", s.Name,
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

// Outcome labels passed to Observer.Item.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

func (s Stage[T, R]) observe(outcome string, d time.Duration) {
	if s.Observer == nil {
		return
	}
	s.Observer.Item(s.Name, outcome)
	if outcome != OutcomeSkipped {
		s.Observer.Duration(s.Name, d)
	}
}
