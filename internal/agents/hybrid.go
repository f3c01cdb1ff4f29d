package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/websearch"
)

// answerHybrid fetches community context and web results concurrently,
// then fuses both into one completion. Either leg may fail without sinking
// the answer; both failing does.
func (s *Service) answerHybrid(ctx context.Context, req Request, query string) (string, []Source) {
	type vectorOut struct {
		results []retrieval.Result
		err     error
	}
	type webOut struct {
		results []websearch.Result
		err     error
	}

	vectorCh := make(chan vectorOut, 1)
	webCh := make(chan webOut, 1)

	go func() {
		results, err := s.retriever.Search(ctx, retrieval.Params{
			TenantID:   req.TenantID,
			ChannelIDs: req.ChannelIDs,
			Query:      query,
		})
		vectorCh <- vectorOut{results, err}
	}()
	go func() {
		if s.web == nil || !s.web.Enabled() {
			webCh <- webOut{nil, nil}
			return
		}
		results, err := s.web.Search(ctx, query, webResultLimit)
		webCh <- webOut{results, err}
	}()

	vector := <-vectorCh
	web := <-webCh
	if vector.err != nil {
		s.logger.Warn(ctx, "hybrid: retrieval leg failed", zap.Error(vector.err))
	}
	if web.err != nil {
		s.logger.Warn(ctx, "hybrid: web leg failed", zap.Error(web.err))
	}
	if (vector.err != nil || len(vector.results) == 0) && (web.err != nil || len(web.results) == 0) {
		return answerUnavailable, nil
	}

	var block strings.Builder
	var sources []Source
	if len(vector.results) > 0 {
		block.WriteString("Community conversations:\n")
		for i, res := range vector.results {
			fmt.Fprintf(&block, "[C%d] %s\n", i+1, res.Preview)
			sources = append(sources, resultSource(res))
		}
	}
	if len(web.results) > 0 {
		block.WriteString("\nWeb results:\n")
		for i, res := range web.results {
			fmt.Fprintf(&block, "[W%d] %s — %s\n%s\n", i+1, res.Title, res.URL, res.Snippet)
			sources = append(sources, Source{Type: "web", Ref: res.URL, Preview: res.Title})
		}
	}

	answer, err := s.llm.Generate(ctx, llm.Request{
		System: "You combine a community's own conversations with current web information. " +
			"Distinguish what the community said ([C#]) from what the web says ([W#]).",
		Prompt:    block.String() + "\n" + guard.SafePrompt(query),
		MaxTokens: 900,
	})
	if err != nil {
		s.logger.Warn(ctx, "hybrid synthesis failed", zap.Error(err))
		return answerUnavailable, sources
	}
	return answer, sources
}
