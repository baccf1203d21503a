// Package llm handles LLM provider communication for the generation and
// judging collaborators, verdict validation, and the single repair attempt.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/peerjudge/internal/schema"
)

// ErrInvalidModelOutput is returned when both the initial and repair judge
// responses fail validation.
var ErrInvalidModelOutput = errors.New("llm: invalid model output after repair attempt")

// ErrEvasiveOutput is returned when a generated review claims the paper was
// missing or otherwise refuses the task.
var ErrEvasiveOutput = errors.New("llm: evasive review output")

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// Options configures a Client.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	// Debug logs full prompts at debug level.
	Debug bool
}

// ValidationError records a single validation failure on an LLM response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Verdict is a validated judge response.
type Verdict struct {
	Winner    schema.Winner `json:"winner"`
	Reasoning string        `json:"reasoning"`
}

// Client binds a provider to one model configuration and call policy. It is
// safe for concurrent use when the underlying provider is.
type Client struct {
	provider Provider
	opts     Options
	policy   *Policy
	logger   *slog.Logger
}

// NewClient creates the provider for opts and wraps it with policy. A nil
// policy makes single attempts with no rate limit.
func NewClient(opts Options, policy *Policy, logger *slog.Logger) (*Client, error) {
	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("llm: create provider: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{provider: provider, opts: opts, policy: policy, logger: logger}, nil
}

// Options returns the configuration the client was built with.
func (c *Client) Options() Options {
	return c.opts
}

type jsonOutputKey struct{}

// withJSONOutput marks ctx so providers that support a JSON response mode
// request it.
func withJSONOutput(ctx context.Context) context.Context {
	return context.WithValue(ctx, jsonOutputKey{}, true)
}

func wantsJSON(ctx context.Context) bool {
	v, _ := ctx.Value(jsonOutputKey{}).(bool)
	return v
}

func (c *Client) complete(ctx context.Context, sysPrompt, userPrompt string) (string, error) {
	if c.opts.Debug {
		c.logger.Debug("llm prompt", "model", c.opts.Model, "system", sysPrompt, "user", userPrompt)
	}
	return c.policy.Do(ctx, func(ctx context.Context) (string, error) {
		return c.provider.Complete(ctx, sysPrompt, userPrompt, c.opts.MaxTokens, c.opts.Temperature)
	})
}

// Generate produces one review. Empty or evasive output is an error so the
// item stays absent from the output and is retried on resume.
func (c *Client) Generate(ctx context.Context, sysPrompt, userPrompt string) (string, error) {
	raw, err := c.complete(ctx, sysPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("llm: generate: empty response")
	}
	if phrase, ok := Evasive(text); ok {
		return "", fmt.Errorf("%w: contains %q", ErrEvasiveOutput, phrase)
	}
	return text, nil
}

// Judge obtains a verdict, validates it, and performs one repair attempt if
// validation fails.
func (c *Client) Judge(ctx context.Context, sysPrompt, userPrompt string) (Verdict, error) {
	ctx = withJSONOutput(ctx)
	raw, err := c.complete(ctx, sysPrompt, userPrompt)
	if err != nil {
		return Verdict{}, fmt.Errorf("llm: complete: %w", err)
	}
	v, validationErrs := ValidateVerdict(raw)
	if v != nil {
		return *v, nil
	}
	c.logger.Debug("judge response invalid; repairing", "model", c.opts.Model, "errors", len(validationErrs))

	// One repair attempt: include the original prompt and the invalid response
	// so the LLM has full context.
	repairPrompt := buildRepairPrompt(userPrompt, raw, validationErrs)
	raw2, err := c.complete(ctx, sysPrompt, repairPrompt)
	if err != nil {
		return Verdict{}, fmt.Errorf("llm: repair complete: %w", err)
	}
	v2, _ := ValidateVerdict(raw2)
	if v2 != nil {
		return *v2, nil
	}
	return Verdict{}, ErrInvalidModelOutput
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
// The content group uses `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present, the opening line is stripped so the
// JSON content can still be parsed.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is not
// a valid JSON string escape character ("\/bfnrtu).
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// fixInvalidJSONEscapes replaces invalid JSON escape sequences in s with their
// correctly double-escaped equivalents.
func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// rawVerdict keeps winner untyped so any JSON scalar can be reported.
type rawVerdict struct {
	Winner    *string `json:"winner"`
	Reasoning string  `json:"reasoning"`
}

// ValidateVerdict parses and validates a raw judge response. Markdown fences
// are stripped and the winner is matched case-insensitively. A nil verdict
// means the response must be repaired.
func ValidateVerdict(raw string) (*Verdict, []ValidationError) {
	raw = stripMarkdownFences(raw)

	var rv rawVerdict
	if err := json.Unmarshal([]byte(raw), &rv); err != nil {
		if err2 := json.Unmarshal([]byte(fixInvalidJSONEscapes(raw)), &rv); err2 != nil {
			return nil, []ValidationError{{Field: "json_parse", Message: err.Error()}}
		}
	}
	if rv.Winner == nil {
		return nil, []ValidationError{{Field: "required_field", Message: "winner is missing"}}
	}
	w, err := schema.ParseWinner(*rv.Winner)
	if err != nil {
		return nil, []ValidationError{{Field: "winner", Message: fmt.Sprintf("invalid winner %q; want A, B or tie", *rv.Winner)}}
	}
	return &Verdict{Winner: w, Reasoning: strings.TrimSpace(rv.Reasoning)}, nil
}

// buildRepairPrompt constructs the repair message. It includes the original
// user prompt and the previous invalid response so the LLM has full context.
func buildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nPlease output only the corrected JSON object {\"winner\": \"A\"|\"B\"|\"tie\", \"reasoning\": \"...\"}. Do not repeat the error.")
	return sb.String()
}

// ── Provider dispatch ─────────────────────────────────────────────────────────

// defaultNewProvider dispatches to the appropriate provider implementation.
func defaultNewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "openrouter", "":
		return newOpenRouterProvider(model)
	case "anthropic":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}

// requireEnv reads an API key from the environment.
func requireEnv(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("llm: %s environment variable not set", name)
	}
	return v, nil
}

// ── Anthropic provider ───────────────────────────────────────────────────────

// anthropicProvider implements Provider using the Anthropic SDK.
// anthropic.Client is a value type; the SDK's NewClient returns it by value.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropicProvider(model string) (Provider, error) {
	apiKey, err := requireEnv("ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicProvider{client: client, model: model}, nil
}

func (p *anthropicProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	// The API rejects empty text blocks.
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: response contained no text content blocks")
	}
	return strings.Join(parts, ""), nil
}
