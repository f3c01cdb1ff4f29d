package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
)

// answerGeneral handles questions that need neither community data nor the
// web. The current time is always framed in so "what day is it" style
// questions don't hallucinate.
func (s *Service) answerGeneral(ctx context.Context, req Request, query string) (string, []Source) {
	system := "You are a helpful community assistant. Answer from general knowledge; " +
		"if the question actually needs this community's conversation history, say you can search it if asked.\n" +
		"Current time: " + time.Now().UTC().Format("Monday, 2 January 2006 15:04 MST")
	if directive := s.directive(ctx, req.TenantID); directive != "" {
		system += "\n\nPersona: " + directive
	}

	answer, err := s.llm.Generate(ctx, llm.Request{
		System:    system,
		History:   s.history(req.ChannelID),
		Prompt:    guard.SafePrompt(query),
		MaxTokens: 700,
	})
	if err != nil {
		s.logger.Warn(ctx, "general answer generation failed", zap.Error(err))
		return answerUnavailable, nil
	}
	return answer, nil
}
