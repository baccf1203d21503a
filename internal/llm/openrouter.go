package llm

import (
	"context"
	"fmt"
	"math"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint used for openrouter
// models such as "anthropic/claude-3.5-sonnet".
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterProvider implements Provider against any OpenAI-compatible chat
// completions endpoint.
type openRouterProvider struct {
	client *goopenai.Client
	model  string
}

func newOpenRouterProvider(model string) (Provider, error) {
	apiKey, err := requireEnv("OPENROUTER_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = OpenRouterBaseURL
	return &openRouterProvider{client: goopenai.NewClientWithConfig(cfg), model: model}, nil
}

func (p *openRouterProvider) Complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	maxTokens int,
	temperature float64,
) (string, error) {
	var msgs []goopenai.ChatCompletionMessage
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: userPrompt})

	temp := float32(temperature)
	if temp == 0 {
		// Temperature is omitempty in the request; zero would mean "default".
		temp = math.SmallestNonzeroFloat32
	}
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter: response contained no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("openrouter: response contained no content (finish_reason %q)", resp.Choices[0].FinishReason)
	}
	return content, nil
}
