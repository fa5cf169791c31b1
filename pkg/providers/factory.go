// Package providers implements reply producers backed by hosted LLM APIs.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/config"
	"github.com/HealthMateDemo/HealthMateV1/pkg/reply"
)

// Options are the generation settings shared by every LLM producer.
type Options struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

func OptionsFromConfig(rc config.ReplyConfig) Options {
	return Options{
		Model:        StripProviderPrefix(rc.Model),
		SystemPrompt: rc.SystemPrompt,
		MaxTokens:    rc.MaxTokens,
		Temperature:  rc.Temperature,
		Timeout:      rc.Timeout(),
	}
}

var templateVoices = map[bus.Template]string{
	bus.TemplateHealth:   "Focus on physical health: nutrition, exercise, sleep and preventive care.",
	bus.TemplateMindfull: "Focus on mental wellness: mindfulness, stress, emotions and self-care.",
	bus.TemplateGlobal:   "Give balanced guidance covering both physical and mental wellness.",
}

func (o Options) systemPrompt(tmpl bus.Template) string {
	base := o.SystemPrompt
	if base == "" {
		base = config.DefaultSystemPrompt
	}
	return base + "\n\n" + templateVoices[tmpl.OrDefault()]
}

func (o Options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.Timeout)
}

// NewProducer builds the producer named by reply.provider. "auto" picks the
// API from the model name; "canned" (or empty) returns the built-in producer.
func NewProducer(cfg *config.Config) (reply.Producer, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Reply.Provider))
	if name == "auto" {
		name = InferProviderFromModel(cfg.Reply.Model)
	}

	opts := OptionsFromConfig(cfg.Reply)
	switch name {
	case "", "canned":
		return reply.NewCanned(), nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but providers.openai.api_key is empty")
		}
		return NewOpenAIProducer(cfg.Providers.OpenAI, opts), nil
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but providers.anthropic.api_key is empty")
		}
		return NewAnthropicProducer(cfg.Providers.Anthropic, opts), nil
	default:
		return nil, fmt.Errorf("cannot select a reply provider for model %q", cfg.Reply.Model)
	}
}
