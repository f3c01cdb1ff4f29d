package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	m := New(0, 0)
	m.Record(1, "q1", "a1")
	m.Record(1, "q2", "a2")
	m.Record(2, "other", "channel")

	got := m.Recent(1, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "q1", got[0].Question)
	assert.Equal(t, "a2", got[1].Answer)

	assert.Len(t, m.Recent(2, 10), 1)
	assert.Empty(t, m.Recent(3, 10))
}

func TestRingEvictsOldest(t *testing.T) {
	m := New(0, 0)
	for i := 0; i < DefaultMaxExchanges+5; i++ {
		m.Record(1, fmt.Sprintf("q%d", i), "a")
	}
	got := m.Recent(1, 0)
	require.Len(t, got, DefaultMaxExchanges)
	assert.Equal(t, "q5", got[0].Question, "oldest five evicted")
}

func TestTTLExpiry(t *testing.T) {
	m := New(0, 0)
	current := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Record(1, "q", "a")
	current = current.Add(29 * time.Minute)
	assert.Len(t, m.Recent(1, 0), 1, "inside TTL")

	current = current.Add(2 * time.Minute)
	assert.Empty(t, m.Recent(1, 0), "expired after 30 minutes idle")
}

func TestRecordRefreshesTTL(t *testing.T) {
	m := New(0, 0)
	current := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Record(1, "q1", "a1")
	current = current.Add(20 * time.Minute)
	m.Record(1, "q2", "a2")
	current = current.Add(20 * time.Minute)
	assert.Len(t, m.Recent(1, 0), 2, "activity resets the idle clock")
}

func TestRecentLimit(t *testing.T) {
	m := New(0, 0)
	for i := 0; i < 5; i++ {
		m.Record(1, fmt.Sprintf("q%d", i), "a")
	}
	got := m.Recent(1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "q3", got[0].Question)
}
