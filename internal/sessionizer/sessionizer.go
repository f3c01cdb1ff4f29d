// Package sessionizer groups channel messages into conversation sessions.
//
// Two passes: a deterministic time pass (channel change, inactivity gap,
// broken reply chain), then a semantic refinement that splits long sessions
// at low-similarity boundaries. Output sessions are chronological,
// non-overlapping, and sized within [MinSize, MaxSize].
package sessionizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kestrelworks/guildsight/internal/embeddings"
	"github.com/kestrelworks/guildsight/internal/logging"
	"go.uber.org/zap"
)

// Message is the sessionizer's view of a stored message.
type Message struct {
	ID        int64
	ChannelID int64
	AuthorID  int64
	Content   string
	ReplyToID *int64
	CreatedAt time.Time
}

// Session is one grouped conversation.
type Session struct {
	ChannelID int64
	Messages  []Message
}

// StartedAt returns the first message's timestamp.
func (s Session) StartedAt() time.Time { return s.Messages[0].CreatedAt }

// EndedAt returns the last message's timestamp.
func (s Session) EndedAt() time.Time { return s.Messages[len(s.Messages)-1].CreatedAt }

// MessageIDs lists the member ids in order.
func (s Session) MessageIDs() []int64 {
	ids := make([]int64, len(s.Messages))
	for i, m := range s.Messages {
		ids[i] = m.ID
	}
	return ids
}

// Config tunes both passes.
type Config struct {
	// Gap is the inactivity threshold that ends a session.
	Gap time.Duration
	// MinSize is the smallest emitted session; undersized groups merge into
	// their predecessor or are dropped when isolated.
	MinSize int
	// MaxSize forces an even hard split of oversized sessions.
	MaxSize int
	// SemanticThreshold is the session length above which the semantic
	// refinement pass runs.
	SemanticThreshold int
	// SplitPercentile picks the similarity cutoff: boundaries whose
	// consecutive-message similarity falls below this percentile split.
	SplitPercentile float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Gap:               15 * time.Minute,
		MinSize:           2,
		MaxSize:           30,
		SemanticThreshold: 15,
		SplitPercentile:   10,
	}
}

// Sessionizer runs the two passes. The embedder may be nil, in which case
// only the time pass runs.
type Sessionizer struct {
	cfg      Config
	embedder embeddings.Embedder
	logger   *logging.Logger
}

// New builds a Sessionizer.
func New(cfg Config, embedder embeddings.Embedder, logger *logging.Logger) *Sessionizer {
	return &Sessionizer{cfg: cfg, embedder: embedder, logger: logger.Named("sessionizer")}
}

// Sessionize groups messages. Input order does not matter; output sessions
// and their members are chronological.
func (s *Sessionizer) Sessionize(ctx context.Context, msgs []Message) ([]Session, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	sessions := s.timePass(sorted)

	if s.embedder != nil {
		refined := make([]Session, 0, len(sessions))
		for _, sess := range sessions {
			if len(sess.Messages) > s.cfg.SemanticThreshold {
				parts, err := s.semanticSplit(ctx, sess)
				if err != nil {
					// Refinement is best-effort; the time pass result stands.
					s.logger.Warn(ctx, "semantic refinement failed, keeping time-based session",
						zap.Int64("channel_id", sess.ChannelID),
						zap.Int("size", len(sess.Messages)),
						zap.Error(err))
					parts = []Session{sess}
				}
				refined = append(refined, parts...)
			} else {
				refined = append(refined, sess)
			}
		}
		sessions = refined
	}

	sessions = s.enforceSizes(sessions)
	return sessions, nil
}

// timePass splits on channel change, inactivity gap, and broken reply
// chains. A reply whose target is inside the running session continues it,
// but a gap over the threshold always breaks.
func (s *Sessionizer) timePass(msgs []Message) []Session {
	var sessions []Session
	var current Session
	memberIDs := make(map[int64]struct{})

	flush := func() {
		if len(current.Messages) > 0 {
			sessions = append(sessions, current)
		}
		current = Session{}
		memberIDs = make(map[int64]struct{})
	}

	for _, m := range msgs {
		if len(current.Messages) == 0 {
			current.ChannelID = m.ChannelID
			current.Messages = append(current.Messages, m)
			memberIDs[m.ID] = struct{}{}
			continue
		}

		last := current.Messages[len(current.Messages)-1]
		breaks := false
		switch {
		case m.ChannelID != current.ChannelID:
			breaks = true
		case m.CreatedAt.Sub(last.CreatedAt) > s.cfg.Gap:
			breaks = true
		case m.ReplyToID != nil:
			if _, inSession := memberIDs[*m.ReplyToID]; !inSession {
				breaks = true
			}
		}

		if breaks {
			flush()
			current.ChannelID = m.ChannelID
		}
		current.Messages = append(current.Messages, m)
		memberIDs[m.ID] = struct{}{}
	}
	flush()
	return sessions
}

// semanticSplit embeds the session's messages and splits at boundaries
// whose consecutive cosine similarity falls strictly below the percentile
// cutoff, so a uniformly coherent session never splits.
func (s *Sessionizer) semanticSplit(ctx context.Context, sess Session) ([]Session, error) {
	texts := make([]string, len(sess.Messages))
	for i, m := range sess.Messages {
		texts[i] = m.Content
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding session: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	sims := make([]float64, len(vecs)-1)
	for i := 1; i < len(vecs); i++ {
		sims[i-1] = cosine(vecs[i-1], vecs[i])
	}
	cutoff := percentile(sims, s.cfg.SplitPercentile)

	var parts []Session
	part := Session{ChannelID: sess.ChannelID, Messages: []Message{sess.Messages[0]}}
	for i := 1; i < len(sess.Messages); i++ {
		if sims[i-1] < cutoff {
			parts = append(parts, part)
			part = Session{ChannelID: sess.ChannelID}
		}
		part.Messages = append(part.Messages, sess.Messages[i])
	}
	parts = append(parts, part)
	return parts, nil
}

// enforceSizes merges undersized sessions into their same-channel
// predecessor (an isolated undersized session is dropped), then hard-splits
// anything over MaxSize into even parts. Merge runs first so a fragment
// absorbed by a full predecessor still ends up within bounds.
func (s *Sessionizer) enforceSizes(sessions []Session) []Session {
	var merged []Session
	for _, sess := range sessions {
		if len(sess.Messages) >= s.cfg.MinSize {
			merged = append(merged, sess)
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1].ChannelID == sess.ChannelID {
			prev := &merged[len(merged)-1]
			prev.Messages = append(prev.Messages, sess.Messages...)
			continue
		}
		// Isolated fragment with nowhere to go.
	}

	var out []Session
	for _, sess := range merged {
		n := len(sess.Messages)
		if n <= s.cfg.MaxSize {
			out = append(out, sess)
			continue
		}
		k := (n + s.cfg.MaxSize - 1) / s.cfg.MaxSize
		base := n / k
		extra := n % k
		idx := 0
		for i := 0; i < k; i++ {
			size := base
			if i < extra {
				size++
			}
			out = append(out, Session{
				ChannelID: sess.ChannelID,
				Messages:  sess.Messages[idx : idx+size],
			})
			idx += size
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile returns the p-th percentile (nearest-rank on a sorted copy).
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	rank := int(math.Floor(p / 100 * float64(len(sorted)-1)))
	return sorted[rank]
}
