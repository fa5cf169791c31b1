package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicProducer answers through the Messages API.
type AnthropicProducer struct {
	client anthropic.Client
	opts   Options
}

func NewAnthropicProducer(pc config.ProviderConfig, o Options, extra ...anthropicoption.RequestOption) *AnthropicProducer {
	reqOpts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(pc.APIKey)}
	if pc.APIBase != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(pc.APIBase))
	}
	reqOpts = append(reqOpts, extra...)

	return &AnthropicProducer{
		client: anthropic.NewClient(reqOpts...),
		opts:   o,
	}
}

func (p *AnthropicProducer) Name() string { return "anthropic:" + p.opts.Model }

func (p *AnthropicProducer) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	ctx, cancel := p.opts.withTimeout(ctx)
	defer cancel()

	// The Messages API requires max_tokens.
	maxTokens := int64(p.opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.opts.Model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: p.opts.systemPrompt(tmpl)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if p.opts.Temperature > 0 {
		params.Temperature = anthropic.Float(p.opts.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError("anthropic", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", errors.New("anthropic: empty reply")
	}
	logger.DebugCF("providers", "Anthropic reply", map[string]interface{}{
		"model":         p.opts.Model,
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
	})
	return content, nil
}
