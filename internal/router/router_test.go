package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelworks/guildsight/internal/logging"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"how many messages were sent last week", IntentAnalyticsDB},
		{"who is the most active user", IntentAnalyticsDB},
		{"top 5 channels by volume", IntentAnalyticsDB},
		{"what topics does the community discuss", IntentGraphRAG},
		{"what are the trending themes", IntentGraphRAG},
		{"what's the latest news on the election", IntentWebSearch},
		{"search the web for go 1.24 release notes", IntentWebSearch},
		{"summarize yesterday's discussion", IntentVectorRAG},
		{"who said they would handle the deploy", IntentVectorRAG},
		{"catch me up on #general", IntentVectorRAG},
	}
	for _, tt := range tests {
		got, ok := MatchPattern(tt.query)
		assert.True(t, ok, "query %q should pattern-match", tt.query)
		assert.Equal(t, tt.want, got, "query %q", tt.query)
	}
}

func TestMatchPatternOrderIsDeterministic(t *testing.T) {
	// Mentions both counting (analytics) and topics (graph); analytics
	// rules run first.
	got, ok := MatchPattern("count the topics discussed")
	assert.True(t, ok)
	assert.Equal(t, IntentAnalyticsDB, got)

	// Repeated classification is stable.
	for i := 0; i < 10; i++ {
		again, _ := MatchPattern("count the topics discussed")
		assert.Equal(t, got, again)
	}
}

func TestMatchPatternMiss(t *testing.T) {
	_, ok := MatchPattern("is water wet")
	assert.False(t, ok)
}

func TestRouteFallsBackToClassifier(t *testing.T) {
	classifier := ClassifierFunc(func(context.Context, string) (string, error) {
		return " hybrid \n", nil
	})
	r := New(classifier, logging.NewNopLogger())

	intent, deterministic := r.Route(context.Background(), "is water wet")
	assert.Equal(t, IntentHybrid, intent)
	assert.False(t, deterministic)
}

func TestRoutePatternSkipsClassifier(t *testing.T) {
	called := false
	classifier := ClassifierFunc(func(context.Context, string) (string, error) {
		called = true
		return string(IntentWebSearch), nil
	})
	r := New(classifier, logging.NewNopLogger())

	intent, deterministic := r.Route(context.Background(), "how many messages today")
	assert.Equal(t, IntentAnalyticsDB, intent)
	assert.True(t, deterministic)
	assert.False(t, called)
}

func TestRouteClassifierErrorDefaultsGeneral(t *testing.T) {
	classifier := ClassifierFunc(func(context.Context, string) (string, error) {
		return "", errors.New("provider down")
	})
	r := New(classifier, logging.NewNopLogger())

	intent, _ := r.Route(context.Background(), "is water wet")
	assert.Equal(t, IntentGeneralKnowledge, intent)
}

func TestRouteUnknownLabelDefaultsGeneral(t *testing.T) {
	classifier := ClassifierFunc(func(context.Context, string) (string, error) {
		return "SOMETHING_ELSE", nil
	})
	r := New(classifier, logging.NewNopLogger())

	intent, _ := r.Route(context.Background(), "is water wet")
	assert.Equal(t, IntentGeneralKnowledge, intent)
}

func TestRouteNilClassifier(t *testing.T) {
	r := New(nil, logging.NewNopLogger())
	intent, _ := r.Route(context.Background(), "is water wet")
	assert.Equal(t, IntentGeneralKnowledge, intent)
}
