package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/retrieval"
)

// recentWindow is how many of the channel's latest messages accompany the
// retrieved sessions, so "just now" references resolve even before the
// indexer has caught up.
const recentWindow = 30

// answerVector is the conversation-recall strategy: hybrid retrieval plus
// the channel's recent messages, synthesized by the model under the
// tenant's personality directive.
func (s *Service) answerVector(ctx context.Context, req Request, query string) (string, []Source) {
	results, err := s.retriever.Search(ctx, retrieval.Params{
		TenantID:   req.TenantID,
		ChannelIDs: req.ChannelIDs,
		Query:      query,
	})
	if err != nil {
		s.logger.Warn(ctx, "retrieval failed", zap.Error(err))
		return answerUnavailable, nil
	}

	// Recent messages lead the context so "just now" references resolve
	// before the model reads older retrieved material.
	var contextBlock strings.Builder
	if req.ChannelID != 0 {
		recent, err := s.store.RecentMessages(ctx, req.TenantID, req.ChannelID, recentWindow)
		if err != nil {
			s.logger.Warn(ctx, "recent messages unavailable", zap.Error(err))
		} else if len(recent) > 0 {
			contextBlock.WriteString("Most recent messages in this channel:\n")
			for _, msg := range recent {
				fmt.Fprintf(&contextBlock, "%s\n", msg.Content)
			}
			contextBlock.WriteString("\n")
		}
	}

	sources := make([]Source, 0, len(results))
	if len(results) > 0 {
		contextBlock.WriteString("Retrieved conversation excerpts:\n")
	}
	for i, res := range results {
		fmt.Fprintf(&contextBlock, "[%d] %s\n", i+1, res.Preview)
		sources = append(sources, resultSource(res))
	}

	if contextBlock.Len() == 0 {
		return "I couldn't find any relevant conversations for that.", sources
	}

	system := "You answer questions about a community's past conversations. " +
		"Use only the provided excerpts; when unsure, say so. Cite excerpts by their [number]."
	if directive := s.directive(ctx, req.TenantID); directive != "" {
		system += "\n\nPersona: " + directive
	}

	answer, err := s.llm.Generate(ctx, llm.Request{
		System:  system,
		History: s.history(req.ChannelID),
		Prompt: contextBlock.String() + "\n" + guard.SafePrompt(query),
		MaxTokens: 800,
	})
	if err != nil {
		s.logger.Warn(ctx, "vector answer generation failed", zap.Error(err))
		return answerUnavailable, sources
	}
	return answer, sources
}

func resultSource(res retrieval.Result) Source {
	typ := "session"
	ref := res.ID
	if res.SourceType == "document" {
		typ = "document"
		if res.ParentFile != "" {
			ref = res.ParentFile
		}
	}
	return Source{Type: typ, Ref: ref, Preview: snippet(res.Preview, 140)}
}

func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
