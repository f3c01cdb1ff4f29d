// Package router classifies queries into answer intents. Pattern rules run
// first, in a fixed order, so common shapes classify deterministically and
// without an LLM round-trip; only pattern misses consult the model.
package router

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/logging"
)

// Intent labels. Each maps to one answer strategy.
type Intent string

const (
	IntentAnalyticsDB      Intent = "ANALYTICS_DB"
	IntentVectorRAG        Intent = "VECTOR_RAG"
	IntentGraphRAG         Intent = "GRAPH_RAG"
	IntentWebSearch        Intent = "WEB_SEARCH"
	IntentGeneralKnowledge Intent = "GENERAL_KNOWLEDGE"
	IntentHybrid           Intent = "HYBRID"
)

// Classifier is the LLM surface the router needs.
type Classifier interface {
	Classify(ctx context.Context, query string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, query string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Pattern rules, evaluated in order. The first matching rule wins, so a
// query mentioning both counting and topics routes to analytics.
var patternRules = []struct {
	intent   Intent
	patterns []*regexp.Regexp
}{
	{
		IntentAnalyticsDB,
		compile(
			`\bhow many\b`, `\bcount\b`, `\bnumber of\b`, `\bmost active\b`,
			`\bleast active\b`, `\btop \d+\b`, `\btop (poster|user|channel|contributor)`,
			`\baverage\b`, `\bper (day|week|month)\b`, `\bstatistics\b`, `\bstats\b`,
			`\bmessage volume\b`, `\bbusiest\b`,
		),
	},
	{
		IntentGraphRAG,
		compile(
			`\btopics?\b`, `\bthemes?\b`, `\btrending\b`,
			`\bwhat (do|does) (people|everyone|the community) (talk|discuss)`,
			`\bmain discussions?\b`, `\bcommunity interests?\b`,
		),
	},
	{
		IntentWebSearch,
		compile(
			`\blatest news\b`, `\bcurrent(ly)? (price|weather|news|score)`,
			`\bsearch the web\b`, `\blook up online\b`, `\bgoogle\b`,
			`\bwhat('s| is) happening (in|with) the world\b`, `\btoday's (news|weather)\b`,
		),
	},
	{
		IntentVectorRAG,
		compile(
			`\bwhat did .* say\b`, `\bwho (said|mentioned|suggested)\b`,
			`\bsummari[sz]e\b`, `\brecap\b`, `\bcatch me up\b`,
			`\bwhat happened (in|on|yesterday|last)\b`, `\bremind me\b`,
			`\bdiscussed? (about|regarding)\b`, `\bconversation about\b`,
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// validIntents guards the LLM's free-text answer.
var validIntents = map[Intent]bool{
	IntentAnalyticsDB: true, IntentVectorRAG: true, IntentGraphRAG: true,
	IntentWebSearch: true, IntentGeneralKnowledge: true, IntentHybrid: true,
}

// Router classifies queries.
type Router struct {
	classifier Classifier
	logger     *logging.Logger
}

// New builds a router. A nil classifier disables the LLM fallback; pattern
// misses then route to GENERAL_KNOWLEDGE.
func New(classifier Classifier, logger *logging.Logger) *Router {
	return &Router{classifier: classifier, logger: logger.Named("router")}
}

// Route returns the intent for a query and whether it came from a pattern
// rule (deterministic) or the model.
func (r *Router) Route(ctx context.Context, query string) (Intent, bool) {
	if intent, ok := MatchPattern(query); ok {
		return intent, true
	}
	if r.classifier == nil {
		return IntentGeneralKnowledge, false
	}

	label, err := r.classifier.Classify(ctx, query)
	if err != nil {
		r.logger.Warn(ctx, "intent classification failed, defaulting",
			zap.Error(err))
		return IntentGeneralKnowledge, false
	}
	intent := Intent(strings.ToUpper(strings.TrimSpace(label)))
	if !validIntents[intent] {
		r.logger.Warn(ctx, "classifier returned unknown label",
			zap.String("label", label))
		return IntentGeneralKnowledge, false
	}
	return intent, false
}

// MatchPattern runs only the deterministic rules. Exported so the same
// classification is testable and usable without a router instance.
func MatchPattern(query string) (Intent, bool) {
	lower := strings.ToLower(query)
	for _, rule := range patternRules {
		for _, re := range rule.patterns {
			if re.MatchString(lower) {
				return rule.intent, true
			}
		}
	}
	return "", false
}

// ClassifyPrompt is the compact instruction given to the fallback model.
// It must answer with exactly one label.
const ClassifyPrompt = `Classify the user question into exactly one category. Answer with only the category name.

ANALYTICS_DB: counting, rankings, activity statistics over the community's own messages
VECTOR_RAG: recalling or summarizing what was said in past conversations
GRAPH_RAG: the community's discussion topics or themes
WEB_SEARCH: current events or real-time information from the internet
GENERAL_KNOWLEDGE: general questions answerable without community data or the web
HYBRID: needs both past community conversations and current web information

Question: `
