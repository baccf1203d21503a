package llm

import (
	"context"
	"testing"

	"github.com/dshills/peerjudge/internal/schema"
)

// Canned judge responses in the shapes providers actually return.
const (
	plainResponse = `{"winner": "A", "reasoning": "Review A engages with the ablations the reference review also raises."}`

	fencedResponse = "```json\n" + `{
  "winner": "B",
  "reasoning": "Review B identifies the missing baseline."
}` + "\n```"

	tildeFencedResponse = "~~~\n{\"winner\":\"Tie\",\"reasoning\":\"Comparable coverage.\"}\n~~~"

	truncatedFenceResponse = "```json\n{\"winner\":\"a\",\"reasoning\":\"A is more specific.\"}"

	badEscapeResponse = `{"winner":"B","reasoning":"B flags the regex \d+ used to filter tokens."}`
)

func runGolden(t *testing.T, response string) (Verdict, error) {
	t.Helper()
	origNewProvider := NewProvider
	NewProvider = func(_, _ string) (Provider, error) {
		return &singleResponseProvider{response: response}, nil
	}
	t.Cleanup(func() { NewProvider = origNewProvider })

	c, err := NewClient(Options{Model: "mock", MaxTokens: 800}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c.Judge(context.Background(), "system", "user")
}

type singleResponseProvider struct {
	response string
}

func (p *singleResponseProvider) Complete(ctx context.Context, system, user string, maxTokens int, temp float64) (string, error) {
	return p.response, nil
}

func TestGolden_JudgeResponses(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     schema.Winner
	}{
		{"plain", plainResponse, schema.WinnerA},
		{"fenced", fencedResponse, schema.WinnerB},
		{"tilde fenced", tildeFencedResponse, schema.WinnerTie},
		{"truncated fence", truncatedFenceResponse, schema.WinnerA},
		{"invalid escape", badEscapeResponse, schema.WinnerB},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := runGolden(t, c.response)
			if err != nil {
				t.Fatalf("Judge error: %v", err)
			}
			if v.Winner != c.want {
				t.Errorf("winner = %q, want %q", v.Winner, c.want)
			}
			if v.Reasoning == "" {
				t.Error("expected reasoning to be carried through")
			}
		})
	}
}

func TestGolden_ProseOnlyFails(t *testing.T) {
	_, err := runGolden(t, "I think review A is better overall.")
	if err != ErrInvalidModelOutput {
		t.Errorf("expected ErrInvalidModelOutput, got %v", err)
	}
}
