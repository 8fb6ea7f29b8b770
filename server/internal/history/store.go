package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/statuscast/server/internal/broadcast"
)

// Entry is a published wire message together with its cell version and the
// time it was recorded.
type Entry struct {
	Version    uint64          `json:"version"`
	Message    json.RawMessage `json:"snapshot"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store is a thread-safe in-memory ring of recent entries, oldest first.
// Entries older than the TTL or beyond the size cap are dropped on Put.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	ttl     time.Duration
	max     int
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store keeping at most max entries no older than ttl.
// A zero ttl keeps entries until the cap pushes them out; a zero max
// disables recording entirely.
func New(ttl time.Duration, max int) *Store {
	return &Store{
		ttl: ttl,
		max: max,
		now: time.Now,
	}
}

// Put records msg under version. Callers must not modify msg after calling Put.
func (s *Store) Put(version uint64, msg []byte) {
	if s.max <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.entries = append(s.entries, Entry{
		Version:    version,
		Message:    json.RawMessage(msg),
		RecordedAt: now.UTC(),
	})
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
	s.evictLocked(now)
}

// List returns copies of up to limit of the newest live entries, oldest first.
// A limit <= 0 returns every live entry.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.entries
	if s.ttl > 0 {
		cutoff := s.now().Add(-s.ttl)
		i := 0
		for i < len(live) && !live[i].RecordedAt.After(cutoff) {
			i++
		}
		live = live[i:]
	}
	if limit > 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}

	out := make([]Entry, len(live))
	copy(out, live)
	return out
}

// Len returns the number of entries held, including stale ones not yet evicted.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict removes entries recorded at or before now minus TTL and returns how
// many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(now)
}

func (s *Store) evictLocked(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)
	i := 0
	for i < len(s.entries) && !s.entries[i].RecordedAt.After(cutoff) {
		i++
	}
	if i > 0 {
		s.entries = append(s.entries[:0], s.entries[i:]...)
	}
	return i
}

// Run records every version it observes through sub until the cell is
// closed (returns nil) or ctx is cancelled (returns ctx.Err()). Subscribe
// before starting Run so no version published in between is missed.
func (s *Store) Run(ctx context.Context, sub *broadcast.Subscription[[]byte]) error {
	for {
		msg, err := sub.WaitForChange(ctx)
		if errors.Is(err, broadcast.ErrClosed) {
			slog.Debug("history: broadcast cell closed")
			return nil
		}
		if err != nil {
			return err
		}
		s.Put(sub.Version(), msg)
	}
}
