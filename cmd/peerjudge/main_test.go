package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dshills/peerjudge/internal/dataset"
	"github.com/dshills/peerjudge/internal/pipeline"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"generic", errors.New("boom"), exitCodeError},
		{"bad input", badInput(errors.New("bad yaml")), exitCodeBadInput},
		{"interrupted", fmt.Errorf("stage: %w", context.Canceled), exitCodeInterrupted},
		{"precondition", &pipeline.PreconditionError{Stage: "judge:judge1", Missing: []string{"7"}}, exitCodePrecondition},
		{"empty dataset", fmt.Errorf("pipeline: %w", dataset.ErrEmpty), exitCodeBadInput},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("%s: exitCodeFor = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestWriteStatusTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeStatusTable(&buf, []pipeline.StageStatus{
		{StageInfo: pipeline.StageInfo{Number: 1, Name: "generate"}, Expected: 8, Completed: 6, Remaining: 2, State: pipeline.StateInProgress},
	})
	if err != nil {
		t.Fatalf("writeStatusTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "#") || !strings.Contains(lines[1], "generate") || !strings.Contains(lines[1], "IN_PROGRESS") {
		t.Errorf("unexpected table:\n%s", buf.String())
	}
}

func TestRunFlagsOptions(t *testing.T) {
	cases := []struct {
		args     []string
		wantFrom *int
		wantStep *int
	}{
		{nil, nil, nil},
		{[]string{"--step", "0"}, nil, pipeline.Stage(0)},
		{[]string{"--from", "0"}, pipeline.Stage(0), nil},
		{[]string{"--from", "2", "--step", "3"}, pipeline.Stage(2), pipeline.Stage(3)},
	}
	for _, c := range cases {
		var g globalFlags
		cmd := newRunCmd(&g)
		if err := cmd.ParseFlags(c.args); err != nil {
			t.Fatalf("%v: parse: %v", c.args, err)
		}
		var f runFlags
		f.from, _ = cmd.Flags().GetInt("from")
		f.step, _ = cmd.Flags().GetInt("step")
		opts := f.options(cmd)
		if !sameStage(opts.From, c.wantFrom) || !sameStage(opts.Step, c.wantStep) {
			t.Errorf("%v: From=%v Step=%v, want %v %v", c.args, deref(opts.From), deref(opts.Step), deref(c.wantFrom), deref(c.wantStep))
		}
	}
}

func sameStage(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *int) string {
	if p == nil {
		return "unset"
	}
	return fmt.Sprint(*p)
}
