// Package agents turns a routed intent into an answer. Every strategy
// returns the same shape — answer text, sources, the route taken, elapsed
// time — and no strategy lets a provider error cross the boundary raw.
package agents

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/guard"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/memory"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/router"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
	"github.com/kestrelworks/guildsight/internal/websearch"
)

// ErrEmptyQuery indicates a blank question.
var ErrEmptyQuery = errors.New("agents: empty query")

// Source is one provenance entry for an answer.
type Source struct {
	Type    string `json:"type"` // "session", "document", or "web"
	Ref     string `json:"ref"`
	Preview string `json:"preview,omitempty"`
}

// Answer is the uniform response shape of every strategy.
type Answer struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	RoutedTo  string   `json:"routed_to"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

// Request is one question.
type Request struct {
	TenantID   int64
	ChannelID  int64
	ChannelIDs []int64
	Query      string
}

// LLM is the completion surface strategies use.
type LLM interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Retriever runs hybrid retrieval.
type Retriever interface {
	Search(ctx context.Context, p retrieval.Params) ([]retrieval.Result, error)
}

// WebSearcher is the external search adapter.
type WebSearcher interface {
	Enabled() bool
	Search(ctx context.Context, query string, limit int) ([]websearch.Result, error)
}

// DataStore is the relational surface strategies use. *store.Store
// satisfies it.
type DataStore interface {
	AnalyticsQuery(ctx context.Context, sql string) ([]string, [][]any, error)
	RecentMessages(ctx context.Context, tenantID, channelID int64, n int) ([]store.Message, error)
	GetDirective(ctx context.Context, tenantID int64) (string, error)
}

// Topics serves cached thematic analyses.
type Topics interface {
	Cached(tenantID int64) (*thematic.Analysis, error)
}

// Service dispatches questions to strategies.
type Service struct {
	router    *router.Router
	llm       LLM
	retriever Retriever
	web       WebSearcher
	store     DataStore
	topics    Topics
	memory    *memory.Memory
	filter    *guard.Filter
	logger    *logging.Logger
}

// New wires a service.
func New(r *router.Router, model LLM, retriever Retriever, web WebSearcher, store DataStore, topics Topics, mem *memory.Memory, logger *logging.Logger) *Service {
	return &Service{
		router:    r,
		llm:       model,
		retriever: retriever,
		web:       web,
		store:     store,
		topics:    topics,
		memory:    mem,
		filter:    guard.NewFilter(),
		logger:    logger.Named("agents"),
	}
}

// RoutedBlocked marks answers refused by the injection filter.
const RoutedBlocked = "BLOCKED"

// Ask answers one question end to end: injection screening, routing,
// strategy dispatch, memory recording. Strategy failures degrade to an
// apologetic answer rather than an error; only invalid requests error.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()

	inspection, err := s.filter.Inspect(req.Query)
	if err != nil {
		if errors.Is(err, guard.ErrEmptyQuery) {
			return nil, ErrEmptyQuery
		}
		if errors.Is(err, guard.ErrBlocked) {
			s.logger.Warn(ctx, "query blocked by injection filter",
				zap.Int64("tenant_id", req.TenantID),
				zap.Int("risk", inspection.Risk),
			)
			return &Answer{
				Answer:    "I can't help with that request.",
				Sources:   []Source{},
				RoutedTo:  RoutedBlocked,
				ElapsedMs: time.Since(start).Milliseconds(),
			}, nil
		}
		return nil, err
	}
	query := inspection.Sanitized

	intent, _ := s.router.Route(ctx, query)
	answer, sources := s.dispatch(ctx, req, query, intent)

	checked, leaked := guard.ValidateOutput(answer)
	if leaked {
		s.logger.Warn(ctx, "answer replaced by output guard",
			zap.String("routed_to", string(intent)))
	}
	answer = checked

	if s.memory != nil && req.ChannelID != 0 {
		s.memory.Record(req.ChannelID, query, answer)
	}
	if sources == nil {
		sources = []Source{}
	}
	return &Answer{
		Answer:    answer,
		Sources:   sources,
		RoutedTo:  string(intent),
		ElapsedMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) dispatch(ctx context.Context, req Request, query string, intent router.Intent) (string, []Source) {
	switch intent {
	case router.IntentAnalyticsDB:
		return s.answerAnalytics(ctx, req, query)
	case router.IntentVectorRAG:
		return s.answerVector(ctx, req, query)
	case router.IntentGraphRAG:
		return s.answerGraph(ctx, req, query)
	case router.IntentWebSearch:
		return s.answerWeb(ctx, req, query)
	case router.IntentHybrid:
		return s.answerHybrid(ctx, req, query)
	default:
		return s.answerGeneral(ctx, req, query)
	}
}

// history returns recent channel exchanges as LLM history.
func (s *Service) history(channelID int64) []llm.Message {
	if s.memory == nil || channelID == 0 {
		return nil
	}
	exchanges := s.memory.Recent(channelID, 5)
	out := make([]llm.Message, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		out = append(out,
			llm.Message{Role: llm.RoleUser, Content: ex.Question},
			llm.Message{Role: llm.RoleAssistant, Content: ex.Answer},
		)
	}
	return out
}

// directive returns the tenant's personality directive, empty on error.
func (s *Service) directive(ctx context.Context, tenantID int64) string {
	if s.store == nil {
		return ""
	}
	d, err := s.store.GetDirective(ctx, tenantID)
	if err != nil {
		return ""
	}
	return d
}

const answerUnavailable = "I couldn't put an answer together just now. Please try again in a moment."
