package providers

import "strings"

// InferProviderFromModel infers a provider label from a model identifier.
// It drives the "auto" reply provider and usage labels.
func InferProviderFromModel(model string) string {
	m := strings.TrimSpace(strings.ToLower(model))
	if m == "" {
		return "unknown"
	}

	if idx := strings.Index(m, "/"); idx > 0 {
		switch m[:idx] {
		case "anthropic":
			return "anthropic"
		case "openai":
			return "openai"
		}
		m = m[idx+1:]
	}

	switch {
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return "unknown"
	}
}

// StripProviderPrefix removes an "openai/" or "anthropic/" routing prefix.
func StripProviderPrefix(model string) string {
	model = strings.TrimSpace(model)
	for _, prefix := range []string{"openai/", "anthropic/"} {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}
