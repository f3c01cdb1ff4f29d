package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/thematic"
)

// answerGraph answers topic and theme questions from the cached thematic
// analysis. No analysis yet means the operator hasn't built one; the user
// gets told rather than a silent empty answer.
func (s *Service) answerGraph(ctx context.Context, req Request, query string) (string, []Source) {
	analysis, err := s.topics.Cached(req.TenantID)
	if err != nil {
		if errors.Is(err, thematic.ErrNoAnalysis) {
			return "I haven't analyzed this community's topics yet. Ask an admin to run a topic rebuild.", nil
		}
		s.logger.Warn(ctx, "topic cache read failed", zap.Error(err))
		return answerUnavailable, nil
	}

	var block strings.Builder
	for i, cluster := range analysis.Clusters {
		fmt.Fprintf(&block, "Theme %d (%d messages): %s\n",
			i+1, cluster.Count, strings.Join(cluster.Terms, ", "))
		if cluster.Summary != "" {
			fmt.Fprintf(&block, "  Summary: %s\n", cluster.Summary)
		}
		for _, sample := range cluster.Samples {
			fmt.Fprintf(&block, "  e.g. %s\n", snippet(sample, 120))
		}
	}

	answer, err := s.llm.Generate(ctx, llm.Request{
		System: "You describe a community's discussion themes from cluster data. " +
			"Ground every claim in the clusters provided.",
		Prompt: "Discussion themes extracted from " +
			fmt.Sprintf("%d messages:\n", analysis.MessageCount) + block.String() +
			"\n\n" + guard.SafePrompt(query),
		MaxTokens: 700,
	})
	if err != nil {
		s.logger.Warn(ctx, "graph answer generation failed", zap.Error(err))
		return answerUnavailable, nil
	}
	return answer, nil
}
