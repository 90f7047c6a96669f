package ai

import (
	"context"
	"sync"
	"time"
)

const (
	BalanceRateLimit  = 10
	BalanceRateWindow = time.Minute
)

type toolSessionContextKey struct{}

type toolSession struct {
	ResourceID string
	ThreadID   string
}

type toolRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
	hits   map[string][]time.Time
}

// newToolRateLimiter returns nil when limit is not positive, which disables
// limiting.
func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	if limit <= 0 {
		return nil
	}
	return &toolRateLimiter{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

func (l *toolRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		queue = queue[idx:]
	}
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	queue = append(queue, now)
	l.hits[key] = queue
	return true
}

// WithToolSession tags ctx with the invocation scope so tools can key their
// limits per resource.
func WithToolSession(ctx context.Context, resourceID, threadID string) context.Context {
	if resourceID == "" && threadID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, toolSession{ResourceID: resourceID, ThreadID: threadID})
}

func ToolSessionFromContext(ctx context.Context) (string, string, bool) {
	meta, ok := ctx.Value(toolSessionContextKey{}).(toolSession)
	if !ok {
		return "", "", false
	}
	return meta.ResourceID, meta.ThreadID, true
}
