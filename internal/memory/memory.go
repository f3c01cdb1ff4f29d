// Package memory is the best-effort, in-process conversation memory used to
// resolve follow-up references ("that file", "the second one"). It is not
// durable and never the source of truth for an answer.
package memory

import (
	"sync"
	"time"
)

// Defaults per channel.
const (
	DefaultMaxExchanges = 20
	DefaultTTL          = 30 * time.Minute
)

// Exchange is one question/answer pair.
type Exchange struct {
	Question string
	Answer   string
	At       time.Time
}

type channelMemory struct {
	exchanges []Exchange
	lastSeen  time.Time
}

// Memory holds per-channel rings. A single mutex guards everything; every
// write sweeps expired channels first, so reads never see stale entries.
type Memory struct {
	mu       sync.Mutex
	channels map[int64]*channelMemory
	max      int
	ttl      time.Duration
	now      func() time.Time
}

// New builds a Memory with the given ring size and TTL; zero values take
// the defaults.
func New(max int, ttl time.Duration) *Memory {
	if max <= 0 {
		max = DefaultMaxExchanges
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		channels: make(map[int64]*channelMemory),
		max:      max,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Record appends an exchange to the channel's ring, evicting the oldest
// entry when full.
func (m *Memory) Record(channelID int64, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	cm := m.channels[channelID]
	if cm == nil {
		cm = &channelMemory{}
		m.channels[channelID] = cm
	}
	cm.exchanges = append(cm.exchanges, Exchange{
		Question: question,
		Answer:   answer,
		At:       m.now(),
	})
	if len(cm.exchanges) > m.max {
		cm.exchanges = cm.exchanges[len(cm.exchanges)-m.max:]
	}
	cm.lastSeen = m.now()
}

// Recent returns up to n most recent exchanges, oldest first. An expired
// channel returns nothing.
func (m *Memory) Recent(channelID int64, n int) []Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	cm := m.channels[channelID]
	if cm == nil {
		return nil
	}
	exchanges := cm.exchanges
	if n > 0 && len(exchanges) > n {
		exchanges = exchanges[len(exchanges)-n:]
	}
	out := make([]Exchange, len(exchanges))
	copy(out, exchanges)
	return out
}

// Clear drops one channel's memory.
func (m *Memory) Clear(channelID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
}

func (m *Memory) sweepLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, cm := range m.channels {
		if cm.lastSeen.Before(cutoff) {
			delete(m.channels, id)
		}
	}
}
