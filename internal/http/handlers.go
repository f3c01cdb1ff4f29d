package http

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/store"
)

const (
	chatHistoryTurns = 10
	summaryKeywords  = 8
	maxSummaryHours  = 7 * 24
)

// handleAsk runs a question through the answer pipeline.
func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TenantID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	answer, err := s.deps.Asker.Ask(c.Request().Context(), agents.Request{
		TenantID:   req.TenantID,
		ChannelID:  req.ChannelID,
		ChannelIDs: req.ChannelIDs,
		Query:      req.Query,
	})
	if err != nil {
		if errors.Is(err, agents.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		s.logger.Error(c.Request().Context(), "ask failed",
			zap.Int64("tenant_id", req.TenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "answer generation failed")
	}
	return c.JSON(http.StatusOK, answer)
}

// handleClassify exposes the intent router without dispatching.
func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	intent, deterministic := s.deps.Router.Route(c.Request().Context(), req.Query)
	return c.JSON(http.StatusOK, ClassifyResponse{Intent: string(intent), Deterministic: deterministic})
}

// handleChat is the direct-message path: durable per-user history, no
// channel context.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == 0 || strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and message are required")
	}
	client := s.deps.Provider.Client()
	if client == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no completion provider configured")
	}
	ctx := c.Request().Context()

	recent, err := s.deps.Store.RecentDMMessages(ctx, req.UserID, chatHistoryTurns*2)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "history unavailable")
	}
	history := make([]llm.Message, 0, len(recent))
	for _, m := range recent {
		role := llm.RoleUser
		if m.Role == "assistant" {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}

	reply, err := client.Generate(ctx, llm.Request{
		System:  "You are a helpful assistant chatting with a community member in direct messages.",
		History: history,
		Prompt:  req.Message,
	})
	if err != nil {
		s.logger.Error(ctx, "chat generation failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "generation failed")
	}

	now := time.Now().UTC()
	for _, turn := range []store.DMMessage{
		{UserID: req.UserID, TenantID: req.TenantID, Role: "user", Content: req.Message, CreatedAt: now},
		{UserID: req.UserID, TenantID: req.TenantID, Role: "assistant", Content: reply, CreatedAt: now},
	} {
		if err := s.deps.Store.InsertDMMessage(ctx, turn); err != nil {
			s.logger.Warn(ctx, "dm history write failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

// handleSearch returns ranked excerpts without generation.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TenantID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}
	params := retrieval.Params{TenantID: req.TenantID, Query: req.Query, Limit: req.Limit}
	if req.ChannelID != 0 {
		params.ChannelIDs = []int64{req.ChannelID}
	}

	results, err := s.deps.Searcher.Search(c.Request().Context(), params)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		s.logger.Error(c.Request().Context(), "search failed",
			zap.Int64("tenant_id", req.TenantID), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "search unavailable")
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			Score:      r.Score,
			SourceType: r.SourceType,
			Preview:    r.Preview,
			ChannelID:  r.ChannelID,
			ParentFile: r.ParentFile,
			Degraded:   r.Degraded,
		}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: hits})
}

// handleSummary digests a channel window: LLM summary when a provider is
// up, term frequencies and participant counts regardless.
func (s *Server) handleSummary(c echo.Context) error {
	var req SummaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TenantID == 0 || req.ChannelID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id and channel_id are required")
	}
	if req.Hours <= 0 {
		req.Hours = 24
	}
	if req.Hours > maxSummaryHours {
		req.Hours = maxSummaryHours
	}
	ctx := c.Request().Context()

	since := time.Now().Add(-time.Duration(req.Hours) * time.Hour)
	msgs, err := s.deps.Store.MessagesSince(ctx, req.TenantID, req.ChannelID, since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "message window unavailable")
	}

	authors := make(map[int64]struct{})
	var lines []string
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		authors[m.AuthorID] = struct{}{}
		lines = append(lines, m.Content)
	}

	resp := SummaryResponse{
		Keywords:     topKeywords(lines, summaryKeywords),
		Participants: len(authors),
		Messages:     len(lines),
	}
	if len(lines) == 0 {
		resp.Summary = "No activity in this window."
		return c.JSON(http.StatusOK, resp)
	}

	if client := s.deps.Provider.Client(); client != nil {
		summary, err := client.Generate(ctx, llm.Request{
			System: "Summarize this chat excerpt in at most four sentences. Mention the main topics and any decisions made.",
			Prompt: strings.Join(lines, "\n"),
		})
		if err == nil {
			resp.Summary = summary
			return c.JSON(http.StatusOK, resp)
		}
		s.logger.Warn(ctx, "summary generation failed", zap.Error(err))
	}
	resp.Summary = fmt.Sprintf("%d messages from %d participants in the last %d hours.",
		len(lines), len(authors), req.Hours)
	return c.JSON(http.StatusOK, resp)
}

var summaryStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "you": true, "your": true, "have": true, "was": true,
	"are": true, "but": true, "not": true, "just": true, "its": true,
	"what": true, "like": true, "about": true, "from": true, "they": true,
	"there": true, "when": true, "will": true, "can": true, "all": true,
}

// topKeywords ranks terms by frequency, ties broken alphabetically so the
// output is stable.
func topKeywords(lines []string, n int) []string {
	counts := make(map[string]int)
	for _, line := range lines {
		for _, word := range strings.Fields(strings.ToLower(line)) {
			word = strings.Trim(word, ".,!?:;\"'()[]")
			if len(word) < 3 || summaryStopwords[word] {
				continue
			}
			counts[word]++
		}
	}
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
