package reply

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/HealthMateDemo/HealthMateV1/pkg/bus"
)

const imageMarker = "image uploaded for analysis"

const ImageAnalysisResponse = `I've received your image and I'm analyzing it now. Here's what I can help you with:

1. **Image Analysis**
   • I can identify visible symptoms or conditions
   • Provide general health observations
   • Suggest when to consult a healthcare professional
   • Offer wellness recommendations based on what I see

2. **Important Note**
   • This analysis is for informational purposes only
   • Always consult with a qualified healthcare provider for medical advice
   • I cannot provide definitive diagnoses

3. **What I Can Help With**
   • General wellness observations
   • Lifestyle recommendations
   • Questions about visible symptoms
   • Guidance on when to seek professional help

Please let me know what specific questions you have about the image, and I'll do my best to provide helpful insights!`

// Each pattern takes the user's text once.
var phrasings = map[bus.Template][]string{
	bus.TemplateHealth: {
		`I understand you're asking about "%s". Let me provide you with some **health-focused** guidance based on your physical wellness needs.`,
		`Thank you for sharing that with me. Based on your message about "%s", here are some **evidence-based health recommendations**:`,
		`I hear you mentioning "%s". This is an important **health topic**. Let me share some insights that might help:`,
		`Regarding your question about "%s", I'd like to offer some **physical wellness guidance** that could be beneficial:`,
		`Your message about "%s" is important for your **health**. Here's what I can suggest based on current health guidelines:`,
	},
	bus.TemplateMindfull: {
		`I understand you're asking about "%s". Let me provide you with some **mental wellness guidance** to support your emotional well-being.`,
		`Thank you for sharing that with me. Based on your message about "%s", here are some **mindfulness-based recommendations**:`,
		`I hear you mentioning "%s". This is an important **mental health topic**. Let me share some insights that might help:`,
		`Regarding your question about "%s", I'd like to offer some **emotional wellness guidance** that could be beneficial:`,
		`Your message about "%s" is important for your **mental health**. Here's what I can suggest based on wellness practices:`,
	},
	bus.TemplateGlobal: {
		`I understand you're asking about "%s". Let me provide you with some **holistic wellness guidance** to support your overall well-being.`,
		`Thank you for sharing that with me. Based on your message about "%s", here are some **comprehensive wellness recommendations**:`,
		`I hear you mentioning "%s". This is an important **wellness topic**. Let me share some insights that might help:`,
		`Regarding your question about "%s", I'd like to offer some **balanced wellness guidance** that could be beneficial:`,
		`Your message about "%s" is important for your **overall wellness**. Here's what I can suggest based on current guidelines:`,
	},
}

const (
	SleepAdvice       = "\n\nFor better **sleep**, try:\n• Establish a consistent bedtime routine\n• Avoid screens 1 hour before bed\n• Keep your bedroom cool and dark\n• Practice relaxation techniques"
	NutritionAdvice   = "\n\nFor better **nutrition**:\n• Eat a variety of colorful fruits and vegetables\n• Stay hydrated with water\n• Limit processed foods\n• Consider consulting a nutritionist"
	PhysicalAdvice    = "\n\nFor **physical wellness**:\n• Aim for 150 minutes of moderate exercise weekly\n• Include strength training 2-3 times per week\n• Find activities you enjoy\n• Start slowly and build up gradually"
	StressAdvice      = "\n\nTo manage **stress**:\n• Practice deep breathing exercises\n• Regular physical activity\n• Mindfulness meditation\n• Maintain a balanced diet"
	MindfulnessAdvice = "\n\nFor **mindfulness practice**:\n• Start with 5-10 minutes daily\n• Focus on your breath\n• Practice mindful eating\n• Use guided meditation apps"
	EmotionalAdvice   = "\n\nFor **emotional wellness**:\n• Acknowledge your feelings without judgment\n• Practice self-compassion\n• Talk to trusted friends or family\n• Consider professional support if needed"
)

type adviceRule struct {
	keywords []string
	block    string
}

var (
	sleepRule       = adviceRule{[]string{"sleep", "insomnia"}, SleepAdvice}
	nutritionRule   = adviceRule{[]string{"diet", "nutrition"}, NutritionAdvice}
	physicalRule    = adviceRule{[]string{"exercise", "workout"}, PhysicalAdvice}
	stressRule      = adviceRule{[]string{"stress", "anxiety"}, StressAdvice}
	mindfulnessRule = adviceRule{[]string{"meditation", "mindfulness"}, MindfulnessAdvice}
	emotionalRule   = adviceRule{[]string{"emotion", "feeling"}, EmotionalAdvice}
)

// Rules are checked in order; only the first match contributes a block.
var adviceRules = map[bus.Template][]adviceRule{
	bus.TemplateHealth:   {sleepRule, nutritionRule, physicalRule},
	bus.TemplateMindfull: {stressRule, mindfulnessRule, emotionalRule},
	bus.TemplateGlobal:   {sleepRule, stressRule, nutritionRule, physicalRule},
}

// Advice returns the keyword-triggered tip block for text, or "" when no
// keyword of the template matches.
func Advice(text string, tmpl bus.Template) string {
	lower := strings.ToLower(text)
	for _, rule := range adviceRules[tmpl.OrDefault()] {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.block
			}
		}
	}
	return ""
}

// Picker chooses one of n phrasing patterns.
type Picker func(n int) int

// Canned is the built-in Producer. It never fails.
type Canned struct {
	pick Picker
}

func NewCanned() *Canned {
	return &Canned{pick: rand.IntN}
}

// NewCannedWithPicker makes phrasing selection deterministic.
func NewCannedWithPicker(pick Picker) *Canned {
	return &Canned{pick: pick}
}

func (c *Canned) Name() string { return "canned" }

func (c *Canned) Generate(ctx context.Context, text string, tmpl bus.Template) (string, error) {
	tmpl = tmpl.OrDefault()

	if resp, ok := FixedReply(text, tmpl); ok {
		return resp, nil
	}

	patterns := phrasings[tmpl]
	idx := c.pick(len(patterns))
	if idx < 0 || idx >= len(patterns) {
		idx = 0
	}
	return fmt.Sprintf(patterns[idx], text) + Advice(text, tmpl), nil
}
