package adapter

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// openAIPricing maps model names to per-1K-token USD prices. Unknown
// models cost zero; callers relying on budgets should extend the table.
var openAIPricing = map[string]struct{ in, out float64 }{
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
}

// OpenAI is a Completer over the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI creates an adapter. The API key may be a secret reference
// resolved through the resolver (e.g. "env:OPENAI_API_KEY").
func NewOpenAI(keyRef string, resolver SecretResolver, defaultModel string) (*OpenAI, error) {
	if resolver == nil {
		resolver = EnvSecretResolver{}
	}
	key, err := resolver.Resolve(keyRef)
	if err != nil {
		return nil, fmt.Errorf("adapter: openai key: %w", err)
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClient(key), defaultModel: defaultModel}, nil
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("adapter: openai returned no choices")
	}
	out := Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if price, ok := openAIPricing[model]; ok {
		out.CostUSD = float64(out.InputTokens)/1000*price.in + float64(out.OutputTokens)/1000*price.out
	}
	return out, nil
}
