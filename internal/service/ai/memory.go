package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	appredis "cordai/internal/redis"
)

// DefaultHistoryLimit caps how many messages of a thread are replayed to the
// model.
const DefaultHistoryLimit = 40

const maxWorkingQueries = 10

// ThreadMemory keeps the message history of one thread, scoped by resource,
// and a small working memory shared by all threads of a resource.
type ThreadMemory interface {
	Load(ctx context.Context, resourceID, threadID string) ([]*schema.Message, error)
	Append(ctx context.Context, resourceID, threadID string, msgs ...*schema.Message) error
	Forget(ctx context.Context, resourceID, threadID string) error
	Working(ctx context.Context, resourceID string) (*WorkingMemory, error)
	UpdateWorking(ctx context.Context, resourceID string, fn func(*WorkingMemory)) error
}

// WorkingMemory is what the agent remembers about a user across threads.
type WorkingMemory struct {
	Queries           []string `json:"queries"`
	LastWalletChecked string   `json:"lastWalletChecked,omitempty"`
}

// AddQuery records a user question, keeping only the most recent ones.
func (w *WorkingMemory) AddQuery(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	w.Queries = append(w.Queries, query)
	if len(w.Queries) > maxWorkingQueries {
		w.Queries = append([]string(nil), w.Queries[len(w.Queries)-maxWorkingQueries:]...)
	}
}

func (w *WorkingMemory) empty() bool {
	return w == nil || (len(w.Queries) == 0 && w.LastWalletChecked == "")
}

// Prompt renders the working memory as a system message body.
func (w *WorkingMemory) Prompt() string {
	if w.empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Working memory for this user:")
	if w.LastWalletChecked != "" {
		fmt.Fprintf(&b, "\n- Last wallet checked: %s", w.LastWalletChecked)
	}
	if len(w.Queries) > 0 {
		fmt.Fprintf(&b, "\n- Recent queries: %s", strings.Join(w.Queries, " | "))
	}
	return b.String()
}

func (w *WorkingMemory) clone() *WorkingMemory {
	if w == nil {
		return &WorkingMemory{}
	}
	out := *w
	out.Queries = append([]string(nil), w.Queries...)
	return &out
}

func memoryKey(resourceID, threadID string) string {
	return fmt.Sprintf("memory:%s:%s", resourceID, threadID)
}

func workingKey(resourceID string) string {
	return fmt.Sprintf("working:%s", resourceID)
}

type localMemory struct {
	limit   int
	mu      sync.RWMutex
	threads map[string][]*schema.Message
	working map[string]*WorkingMemory
}

// NewLocalMemory keeps histories in process memory.
func NewLocalMemory(limit int) ThreadMemory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &localMemory{
		limit:   limit,
		threads: make(map[string][]*schema.Message),
		working: make(map[string]*WorkingMemory),
	}
}

func (m *localMemory) Load(_ context.Context, resourceID, threadID string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMessages(m.threads[memoryKey(resourceID, threadID)]), nil
}

func (m *localMemory) Append(_ context.Context, resourceID, threadID string, msgs ...*schema.Message) error {
	key := memoryKey(resourceID, threadID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[key] = trimHistory(append(m.threads[key], cloneMessages(msgs)...), m.limit)
	return nil
}

func (m *localMemory) Forget(_ context.Context, resourceID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, memoryKey(resourceID, threadID))
	return nil
}

func (m *localMemory) Working(_ context.Context, resourceID string) (*WorkingMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.working[resourceID].clone(), nil
}

func (m *localMemory) UpdateWorking(_ context.Context, resourceID string, fn func(*WorkingMemory)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.working[resourceID].clone()
	fn(w)
	m.working[resourceID] = w
	return nil
}

type redisMemory struct {
	client *appredis.Client
	ttl    time.Duration
	limit  int
}

// NewRedisMemory stores each thread as one JSON document with a sliding TTL.
func NewRedisMemory(client *appredis.Client, ttl time.Duration, limit int) ThreadMemory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &redisMemory{client: client, ttl: ttl, limit: limit}
}

func (m *redisMemory) Load(ctx context.Context, resourceID, threadID string) ([]*schema.Message, error) {
	raw, err := m.client.Get(ctx, memoryKey(resourceID, threadID))
	if err != nil {
		if errors.Is(err, appredis.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load thread memory: %w", err)
	}
	var msgs []*schema.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode thread memory: %w", err)
	}
	return msgs, nil
}

func (m *redisMemory) Append(ctx context.Context, resourceID, threadID string, msgs ...*schema.Message) error {
	history, err := m.Load(ctx, resourceID, threadID)
	if err != nil {
		return err
	}
	history = trimHistory(append(history, msgs...), m.limit)
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode thread memory: %w", err)
	}
	if err := m.client.Set(ctx, memoryKey(resourceID, threadID), payload, m.ttl); err != nil {
		return fmt.Errorf("store thread memory: %w", err)
	}
	return nil
}

func (m *redisMemory) Forget(ctx context.Context, resourceID, threadID string) error {
	if err := m.client.Del(ctx, memoryKey(resourceID, threadID)); err != nil {
		return fmt.Errorf("forget thread memory: %w", err)
	}
	return nil
}

func (m *redisMemory) Working(ctx context.Context, resourceID string) (*WorkingMemory, error) {
	raw, err := m.client.Get(ctx, workingKey(resourceID))
	if err != nil {
		if errors.Is(err, appredis.ErrCacheMiss) {
			return &WorkingMemory{}, nil
		}
		return nil, fmt.Errorf("load working memory: %w", err)
	}
	var w WorkingMemory
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode working memory: %w", err)
	}
	return &w, nil
}

// UpdateWorking is read-modify-write; concurrent updates of one resource are
// last-writer-wins.
func (m *redisMemory) UpdateWorking(ctx context.Context, resourceID string, fn func(*WorkingMemory)) error {
	w, err := m.Working(ctx, resourceID)
	if err != nil {
		return err
	}
	fn(w)
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode working memory: %w", err)
	}
	if err := m.client.Set(ctx, workingKey(resourceID), payload, m.ttl); err != nil {
		return fmt.Errorf("store working memory: %w", err)
	}
	return nil
}

func trimHistory(msgs []*schema.Message, limit int) []*schema.Message {
	if limit > 0 && len(msgs) > limit {
		return append([]*schema.Message(nil), msgs[len(msgs)-limit:]...)
	}
	return msgs
}

func cloneMessages(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		c := *msg
		out = append(out, &c)
	}
	return out
}
