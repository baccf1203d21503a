// Package prompt holds the prompt templates for review generation and
// pairwise judging. Each built-in template can be replaced from a file.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/peerjudge/internal/schema"
)

// Placeholders substituted by Render.
const (
	VarPaperText   = "{paper_text}"
	VarSkill       = "{peer_review_skill}"
	VarGroundTruth = "{ground_truth}"
	VarReviewA     = "{review_A}"
	VarReviewB     = "{review_B}"
)

// Template is a system prompt plus a user prompt with placeholders.
type Template struct {
	Name        string
	Description string
	System      string
	User        string
}

// Render substitutes vars into the user prompt. Unknown placeholders are left
// as-is. Substitution is single-pass, so placeholder text inside a value is
// never expanded.
func (t Template) Render(vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(t.User)
}

// DefaultSkill is the structured reviewing guidance injected into the peer
// template when no skill file is configured.
const DefaultSkill = `1. Summarize the paper's claims in your own words.
2. Assess soundness: are the methods appropriate and the experiments adequate to support the claims?
3. Assess significance and novelty relative to prior work the paper cites.
4. Assess clarity and reproducibility.
5. List concrete weaknesses, each with a specific, actionable suggestion.
6. List questions for the authors.
7. Give an overall recommendation with a short justification.`

// builtins is the registry of built-in templates keyed by name.
var builtins = map[string]Template{
	string(schema.ConditionPeer): {
		Name:        string(schema.ConditionPeer),
		Description: "Structured reviewer prompt with the peer-review skill injected.",
		System:      "You are an expert scientific peer reviewer.",
		User: "Follow this reviewing procedure:\n\n" + VarSkill +
			"\n\nWrite a complete peer review of the paper below. Base every point on the paper text.\n\nPAPER:\n" +
			VarPaperText,
	},
	string(schema.ConditionVanilla): {
		Name:        string(schema.ConditionVanilla),
		Description: "Unstructured baseline reviewer prompt.",
		System:      "You are a scientific peer reviewer.",
		User:        "Write a peer review of the following paper.\n\nPAPER:\n" + VarPaperText,
	},
	"judge": {
		Name:        "judge",
		Description: "Blind pairwise comparison of two reviews against a human reference review.",
		System: "You are an impartial meta-reviewer. Output ONLY a JSON object " +
			`{"winner": "A" | "B" | "tie", "reasoning": "<one paragraph>"}. No prose outside the JSON.`,
		User: "Compare two anonymous reviews of the same paper. Judge which review better matches " +
			"the substance of the reference human review and is more accurate, specific and useful to the authors. " +
			"Ignore length and formatting. Answer tie only when neither is clearly better.\n\n" +
			"PAPER:\n" + VarPaperText + "\n\nREFERENCE REVIEW:\n" + VarGroundTruth +
			"\n\nREVIEW A:\n" + VarReviewA + "\n\nREVIEW B:\n" + VarReviewB,
	},
}

// Load returns the named built-in template or an error if the name is unknown.
func Load(name string) (Template, error) {
	t, ok := builtins[name]
	if !ok {
		return Template{}, fmt.Errorf("prompt: unknown template %q (available: peer, vanilla, judge)", name)
	}
	return t, nil
}

// LoadFile returns the named built-in template with its user prompt replaced
// by the contents of path. The built-in system prompt is kept.
func LoadFile(name, path string) (Template, error) {
	t, err := Load(name)
	if err != nil {
		return Template{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("prompt: read %s template: %w", name, err)
	}
	user := strings.TrimSpace(string(b))
	if user == "" {
		return Template{}, fmt.Errorf("prompt: %s template %s is empty", name, path)
	}
	t.User = user
	t.Description = "loaded from " + path
	return t, nil
}

// Files names optional override files. Empty fields use the built-ins.
type Files struct {
	Peer    string
	Vanilla string
	Judge   string
	Skill   string
}

// Set is the resolved template set for one run.
type Set struct {
	Peer    Template
	Vanilla Template
	Judge   Template
	Skill   string
}

// LoadSet resolves every template, reading overrides from files.
func LoadSet(f Files) (Set, error) {
	var s Set
	var err error
	load := func(name, path string) (Template, error) {
		if path == "" {
			return Load(name)
		}
		return LoadFile(name, path)
	}
	if s.Peer, err = load(string(schema.ConditionPeer), f.Peer); err != nil {
		return Set{}, err
	}
	if s.Vanilla, err = load(string(schema.ConditionVanilla), f.Vanilla); err != nil {
		return Set{}, err
	}
	if s.Judge, err = load("judge", f.Judge); err != nil {
		return Set{}, err
	}
	s.Skill = DefaultSkill
	if f.Skill != "" {
		b, err := os.ReadFile(f.Skill)
		if err != nil {
			return Set{}, fmt.Errorf("prompt: read skill: %w", err)
		}
		s.Skill = strings.TrimSpace(string(b))
	}
	return s, nil
}

// Generation returns the system and user prompts for one condition. The
// paper text must already be truncated.
func (s Set) Generation(c schema.Condition, paperText string) (system, user string, err error) {
	switch c {
	case schema.ConditionPeer:
		return s.Peer.System, s.Peer.Render(map[string]string{VarSkill: s.Skill, VarPaperText: paperText}), nil
	case schema.ConditionVanilla:
		return s.Vanilla.System, s.Vanilla.Render(map[string]string{VarPaperText: paperText}), nil
	}
	return "", "", fmt.Errorf("prompt: unknown condition %q", c)
}

// Judging returns the system and user prompts for a blind comparison.
func (s Set) Judging(paperText, groundTruth, reviewA, reviewB string) (system, user string) {
	return s.Judge.System, s.Judge.Render(map[string]string{
		VarPaperText:   paperText,
		VarGroundTruth: groundTruth,
		VarReviewA:     reviewA,
		VarReviewB:     reviewB,
	})
}
