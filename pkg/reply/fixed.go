package reply

import (
	"context"
	"strings"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
	"github.com/HealthMateDemo/HealthMateV1/pkg/logger"
)

// FixedReply returns the answer that takes precedence over any producer:
// the image analysis response, then the command trigger table.
func FixedReply(text string, tmpl bus.Template) (string, bool) {
	tmpl = tmpl.OrDefault()
	if strings.Contains(strings.ToLower(text), imageMarker) {
		return ImageAnalysisResponse, true
	}
	if resp, ok := CommandReply(text, tmpl); ok {
		logger.DebugCF("reply", "Command trigger matched", map[string]interface{}{
			"template": string(tmpl),
		})
		return resp, true
	}
	return "", false
}

type fixedReplies struct {
	next Producer
}

// WithFixedReplies answers image uploads and command triggers itself and
// hands every other message to next.
func WithFixedReplies(next Producer) Producer {
	return fixedReplies{next: next}
}

func (f fixedReplies) Name() string { return f.next.Name() }

func (f fixedReplies) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	if resp, ok := FixedReply(text, tmpl); ok {
		return resp, nil
	}
	return f.next.Generate(ctx, text, tmpl)
}
