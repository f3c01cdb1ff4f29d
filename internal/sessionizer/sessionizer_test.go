package sessionizer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/logging"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func msg(id int64, channel int64, offset time.Duration) Message {
	return Message{
		ID:        id,
		ChannelID: channel,
		AuthorID:  1,
		Content:   fmt.Sprintf("message %d", id),
		CreatedAt: t0.Add(offset),
	}
}

func newTimeOnly() *Sessionizer {
	logger := logging.NewNopLogger()
	return New(DefaultConfig(), nil, logger)
}

func TestGapSplits(t *testing.T) {
	s := newTimeOnly()
	msgs := []Message{
		msg(1, 1, 0),
		msg(2, 1, time.Minute),
		msg(3, 1, 20*time.Minute), // over the 15m gap
		msg(4, 1, 21*time.Minute),
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, []int64{1, 2}, sessions[0].MessageIDs())
	assert.Equal(t, []int64{3, 4}, sessions[1].MessageIDs())
}

func TestExactGapDoesNotSplit(t *testing.T) {
	s := newTimeOnly()
	msgs := []Message{
		msg(1, 1, 0),
		msg(2, 1, 15*time.Minute), // exactly the threshold
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestChannelChangeSplits(t *testing.T) {
	s := newTimeOnly()
	msgs := []Message{
		msg(1, 1, 0),
		msg(2, 1, time.Minute),
		msg(3, 2, 2*time.Minute),
		msg(4, 2, 3*time.Minute),
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(1), sessions[0].ChannelID)
	assert.Equal(t, int64(2), sessions[1].ChannelID)
}

func TestReplyChainContinuesAndBreaks(t *testing.T) {
	s := newTimeOnly()
	replyTo := func(id int64) *int64 { return &id }

	inChain := msg(3, 1, 10*time.Minute)
	inChain.ReplyToID = replyTo(1)
	outOfChain := msg(4, 1, 11*time.Minute)
	outOfChain.ReplyToID = replyTo(999)
	follower := msg(5, 1, 12*time.Minute)

	sessions, err := s.Sessionize(context.Background(), []Message{
		msg(1, 1, 0),
		msg(2, 1, time.Minute),
		inChain,
		outOfChain,
		follower,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, []int64{1, 2, 3}, sessions[0].MessageIDs())
	assert.Equal(t, []int64{4, 5}, sessions[1].MessageIDs())
}

func TestTimeBreakWinsOverReplyChain(t *testing.T) {
	s := newTimeOnly()
	one := int64(1)
	late := msg(3, 1, time.Hour)
	late.ReplyToID = &one

	sessions, err := s.Sessionize(context.Background(), []Message{
		msg(1, 1, 0),
		msg(2, 1, time.Minute),
		late,
		msg(4, 1, time.Hour+time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, sessions, 2, "a gap over the threshold splits even inside a reply chain")
}

func TestOversizedSessionHardSplitsEvenly(t *testing.T) {
	s := newTimeOnly()
	msgs := make([]Message, 31)
	for i := range msgs {
		msgs[i] = msg(int64(i+1), 1, time.Duration(i)*time.Minute)
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Len(t, sessions[0].Messages, 16)
	assert.Len(t, sessions[1].Messages, 15)
}

func TestSingletonMergesIntoPredecessor(t *testing.T) {
	s := newTimeOnly()
	sessions, err := s.Sessionize(context.Background(), []Message{
		msg(1, 1, 0),
		msg(2, 1, time.Minute),
		msg(3, 1, 30*time.Minute), // isolated by gaps on both sides
	})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []int64{1, 2, 3}, sessions[0].MessageIDs())
}

func TestIsolatedSingletonDropped(t *testing.T) {
	s := newTimeOnly()
	sessions, err := s.Sessionize(context.Background(), []Message{msg(1, 1, 0)})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestChronologicalNonOverlapping(t *testing.T) {
	s := newTimeOnly()
	// Deliberately unsorted input.
	msgs := []Message{
		msg(3, 1, 40*time.Minute),
		msg(1, 1, 0),
		msg(4, 1, 41*time.Minute),
		msg(2, 1, time.Minute),
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	var prevEnd time.Time
	for _, sess := range sessions {
		assert.True(t, !sess.StartedAt().Before(prevEnd), "sessions must be in order")
		prevEnd = sess.EndedAt()
		for i, m := range sess.Messages {
			assert.False(t, seen[m.ID], "message %d appears twice", m.ID)
			seen[m.ID] = true
			if i > 0 {
				assert.True(t, !m.CreatedAt.Before(sess.Messages[i-1].CreatedAt))
			}
		}
	}
}

// splitEmbedder returns orthogonal vectors for messages before and after a
// pivot id, forcing exactly one low-similarity boundary.
type splitEmbedder struct {
	pivot int
	calls int
}

func (e *splitEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		if i < e.pivot {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func (e *splitEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (e *splitEmbedder) Dimension() int { return 2 }
func (e *splitEmbedder) Close() error   { return nil }

func TestSemanticRefinementSplitsAtTopicShift(t *testing.T) {
	emb := &splitEmbedder{pivot: 8}
	s := New(DefaultConfig(), emb, logging.NewNopLogger())

	msgs := make([]Message, 16)
	for i := range msgs {
		msgs[i] = msg(int64(i+1), 1, time.Duration(i)*time.Minute)
	}
	sessions, err := s.Sessionize(context.Background(), msgs)
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls, "only sessions over the threshold are embedded")
	require.Len(t, sessions, 2)
	assert.Len(t, sessions[0].Messages, 8)
	assert.Len(t, sessions[1].Messages, 8)
}

func TestShortSessionSkipsSemanticPass(t *testing.T) {
	emb := &splitEmbedder{pivot: 2}
	s := New(DefaultConfig(), emb, logging.NewNopLogger())

	sessions, err := s.Sessionize(context.Background(), []Message{
		msg(1, 1, 0), msg(2, 1, time.Minute), msg(3, 1, 2*time.Minute),
	})
	require.NoError(t, err)
	assert.Zero(t, emb.calls)
	require.Len(t, sessions, 1)
}
