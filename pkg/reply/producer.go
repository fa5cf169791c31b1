// Package reply turns an inbound chat message into the assistant's reply text.
package reply

import (
	"context"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
)

// Producer generates reply text for a user message in the voice selected by tmpl.
type Producer interface {
	Name() string
	Generate(ctx context.Context, text string, tmpl bus.Template) (string, error)
}

// Func adapts a plain function to Producer.
type Func func(ctx context.Context, text string, tmpl bus.Template) (string, error)

func (f Func) Name() string { return "func" }

func (f Func) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	return f(ctx, text, tmpl)
}

var greetings = map[bus.Template]string{
	bus.TemplateHealth:   "Thanks for choosing Physical Health! How can I help you with your wellness journey today?",
	bus.TemplateMindfull: "Thanks for choosing Mental Wellness! How can I help you with your mental health and mindfulness today?",
}

// Greeting returns the welcome line shown when a conversation switches to tmpl.
// The global template has none.
func Greeting(tmpl bus.Template) (string, bool) {
	g, ok := greetings[tmpl]
	return g, ok
}
