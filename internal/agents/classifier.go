package agents

import (
	"context"

	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/router"
)

// Classifier adapts the completion client into the router's LLM fallback.
func Classifier(model LLM) router.ClassifierFunc {
	return func(ctx context.Context, query string) (string, error) {
		return model.Generate(ctx, llm.Request{
			Prompt:      router.ClassifyPrompt + query,
			MaxTokens:   12,
			Temperature: 0,
		})
	}
}
