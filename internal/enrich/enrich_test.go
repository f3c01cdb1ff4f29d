package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ts = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func names(m map[int64]string) Resolver {
	return ResolverFunc(func(id int64) (string, bool) {
		name, ok := m[id]
		return name, ok
	})
}

func TestMessageFormat(t *testing.T) {
	got := Message("shipped the fix", "alice", ts, "general", nil)
	assert.Equal(t, "[alice in #general @ 2026-03-14 09:26]: shipped the fix", got)

	got = Message("shipped the fix", "alice", ts, "", nil)
	assert.Equal(t, "[alice @ 2026-03-14 09:26]: shipped the fix", got)
}

func TestCleanMentions(t *testing.T) {
	resolver := names(map[int64]string{42: "bob"})
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"user mention", "hey <@42> look", "hey @bob look"},
		{"nickname mention", "hey <@!42> look", "hey @bob look"},
		{"unknown user", "ping <@77>", "ping @User#77"},
		{"role mention", "calling <@&123>", "calling @role"},
		{"channel mention", "see <#555>", "see #channel"},
		{"no mentions", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanMentions(tt.in, resolver))
		})
	}
}

func TestSessionHeaderOnlyForMultiLine(t *testing.T) {
	lines := []Line{
		{Content: "first", AuthorName: "alice", Timestamp: ts},
		{Content: "second", AuthorName: "bob", Timestamp: ts.Add(time.Minute)},
	}
	got := Session(lines, "dev", nil)
	assert.Contains(t, got, "Conversation in #dev:\n")
	assert.Contains(t, got, "[alice @ 2026-03-14 09:26]: first")
	assert.Contains(t, got, "[bob @ 2026-03-14 09:27]: second")

	single := Session(lines[:1], "dev", nil)
	assert.NotContains(t, single, "Conversation in")
}

func TestPreviewRuneSafe(t *testing.T) {
	assert.Equal(t, "short", Preview("short", 100))

	s := "héllo wörld"
	p := Preview(s, 7)
	assert.LessOrEqual(t, len(p), 7)
	for _, r := range p {
		assert.NotEqual(t, '�', r)
	}
}
