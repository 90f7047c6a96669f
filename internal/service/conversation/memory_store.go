package conversation

import (
	"context"
	"sync"
	"time"

	"cordai/internal/models"
)

// MemoryStore keeps summaries in process memory. Contents are lost on restart.
// The mutex only protects the map; concurrent upserts for one user still
// resolve as last writer wins.
type MemoryStore struct {
	mu     sync.Mutex
	byUser map[string][]*models.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*models.Conversation)}
}

func (m *MemoryStore) List(_ context.Context, userID string) ([]*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byUser[userID]
	out := make([]*models.Conversation, 0, len(list))
	for _, c := range list {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, userID, conversationID string) (*models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byUser[userID] {
		if c.ID == conversationID {
			return c.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (m *MemoryStore) Upsert(_ context.Context, userID string, conv *models.Conversation, now time.Time) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byUser[userID]
	for i, c := range list {
		if c.ID == conv.ID {
			list[i] = merge(c, conv, now)
			return list[i].Clone(), nil
		}
	}
	entry := fresh(userID, conv, now)
	m.byUser[userID] = append([]*models.Conversation{entry}, list...)
	return entry.Clone(), nil
}

func (m *MemoryStore) Remove(_ context.Context, userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byUser[userID]
	kept := list[:0]
	for _, c := range list {
		if c.ID != conversationID {
			kept = append(kept, c)
		}
	}
	m.byUser[userID] = kept
	return nil
}
