package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultJanitorInterval = time.Minute

type hitLog struct {
	hits   []time.Time
	window time.Duration
}

// prune drops hits that fell out of the window ending at now.
func (l *hitLog) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.hits) && !l.hits[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		l.hits = append(l.hits[:0], l.hits[keep:]...)
	}
}

// MemoryLimiter keeps an exact log of admitted events per key. Only admitted
// events are recorded, so a rejected caller does not extend its own penalty.
type MemoryLimiter struct {
	logs      *shardedMap[*hitLog]
	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

type MemoryOption func(*MemoryLimiter)

func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		logs: newShardedMap[*hitLog](),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.janitor(defaultJanitorInterval)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	now := l.now()
	s := l.logs.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		entry = &hitLog{}
		s.items[key] = entry
	}
	entry.window = window
	entry.prune(now)

	if len(entry.hits) >= limit {
		return false, nil
	}
	entry.hits = append(entry.hits, now)
	return true, nil
}

// RetryAfter reports how long until key admits another event.
func (l *MemoryLimiter) RetryAfter(key string, limit int, window time.Duration) time.Duration {
	now := l.now()
	s := l.logs.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return 0
	}
	entry.window = window
	entry.prune(now)
	if limit <= 0 || len(entry.hits) < limit {
		return 0
	}
	oldest := entry.hits[len(entry.hits)-limit]
	return oldest.Add(window).Sub(now)
}

func (l *MemoryLimiter) sweep() {
	now := l.now()
	l.logs.deleteFunc(func(_ string, entry *hitLog) bool {
		entry.prune(now)
		return len(entry.hits) == 0
	})
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
}
