package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/websearch"
)

const webResultLimit = 5

// answerWeb searches the web and synthesizes. When synthesis fails the raw
// results still reach the user as a formatted list — a degraded answer
// beats none.
func (s *Service) answerWeb(ctx context.Context, _ Request, query string) (string, []Source) {
	if s.web == nil || !s.web.Enabled() {
		return "Web search isn't configured for this community.", nil
	}

	results, err := s.web.Search(ctx, query, webResultLimit)
	if err != nil {
		s.logger.Warn(ctx, "web search failed", zap.Error(err))
		return answerUnavailable, nil
	}
	if len(results) == 0 {
		return "The web search returned nothing useful for that.", nil
	}

	sources := make([]Source, 0, len(results))
	var block strings.Builder
	for i, res := range results {
		fmt.Fprintf(&block, "[%d] %s — %s\n%s\n", i+1, res.Title, res.URL, res.Snippet)
		sources = append(sources, Source{Type: "web", Ref: res.URL, Preview: res.Title})
	}

	answer, err := s.llm.Generate(ctx, llm.Request{
		System: "You answer questions using the provided web results. " +
			"Cite results by their [number]; do not invent information beyond them.",
		Prompt:    "Web results:\n" + block.String() + "\n" + guard.SafePrompt(query),
		MaxTokens: 700,
	})
	if err != nil {
		s.logger.Warn(ctx, "web synthesis failed, returning result list", zap.Error(err))
		return formatWebResults(results), sources
	}
	return answer, sources
}

func formatWebResults(results []websearch.Result) string {
	var b strings.Builder
	b.WriteString("Here's what I found:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, res.Title, res.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
