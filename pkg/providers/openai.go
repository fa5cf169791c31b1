package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

// OpenAIProducer answers through the chat completions API.
type OpenAIProducer struct {
	client openai.Client
	opts   Options
}

func NewOpenAIProducer(pc config.ProviderConfig, o Options, extra ...option.RequestOption) *OpenAIProducer {
	reqOpts := []option.RequestOption{option.WithAPIKey(pc.APIKey)}
	if pc.APIBase != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(pc.APIBase))
	}
	reqOpts = append(reqOpts, extra...)

	return &OpenAIProducer{
		client: openai.NewClient(reqOpts...),
		opts:   o,
	}
}

func (p *OpenAIProducer) Name() string { return "openai:" + p.opts.Model }

func (p *OpenAIProducer) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	ctx, cancel := p.opts.withTimeout(ctx)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(p.opts.systemPrompt(tmpl)),
			openai.UserMessage(text),
		},
	}
	if p.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.opts.MaxTokens))
	}
	if p.opts.Temperature > 0 {
		params.Temperature = openai.Float(p.opts.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openai: empty reply")
	}
	logger.DebugCF("providers", "OpenAI reply", map[string]interface{}{
		"model":             p.opts.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
	return content, nil
}
