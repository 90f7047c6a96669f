package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"cordai/internal/models"
)

var (
	ErrMissingUserID = errors.New("user id required")
	ErrMissingFields = errors.New("user id and conversation required")
)

// Store persists the per-user conversation summaries. Implementations keep
// newly created entries first and update existing entries in place.
type Store interface {
	List(ctx context.Context, userID string) ([]*models.Conversation, error)
	Get(ctx context.Context, userID, conversationID string) (*models.Conversation, bool, error)
	Upsert(ctx context.Context, userID string, conv *models.Conversation, now time.Time) (*models.Conversation, error)
	Remove(ctx context.Context, userID, conversationID string) error
}

// Service validates registry calls and stamps timestamps.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService builds a registry service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the user's summaries, most recently created first. A user
// without conversations gets an empty slice.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}
	list, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = make([]*models.Conversation, 0)
	}
	return list, nil
}

// Upsert merges conv into an existing entry with the same id, or prepends it.
func (s *Service) Upsert(ctx context.Context, userID string, conv *models.Conversation) (*models.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || conv == nil || strings.TrimSpace(conv.ID) == "" {
		return nil, ErrMissingFields
	}
	return s.store.Upsert(ctx, userID, conv, s.now())
}

// Remove deletes the entry; removing an unknown id succeeds.
func (s *Service) Remove(ctx context.Context, userID, conversationID string) error {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return ErrMissingFields
	}
	return s.store.Remove(ctx, userID, conversationID)
}

// Touch records activity on a conversation after a message exchange. New
// conversations are created with titleHint; existing ones keep their title
// and only get lastMessageAt refreshed.
func (s *Service) Touch(ctx context.Context, userID, conversationID, titleHint string) (*models.Conversation, error) {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return nil, ErrMissingFields
	}
	_, ok, err := s.store.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	conv := &models.Conversation{ID: conversationID}
	if !ok {
		conv.Title = titleHint
	}
	return s.store.Upsert(ctx, userID, conv, s.now())
}

// Exists reports whether the user already has a summary for conversationID.
func (s *Service) Exists(ctx context.Context, userID, conversationID string) (bool, error) {
	_, ok, err := s.store.Get(ctx, userID, conversationID)
	return ok, err
}

// merge applies the provided non-empty fields of in onto existing.
func merge(existing, in *models.Conversation, now time.Time) *models.Conversation {
	out := existing.Clone()
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.LastReadAt != nil {
		t := *in.LastReadAt
		out.LastReadAt = &t
	}
	ts := now
	out.LastMessageAt = &ts
	return out
}

// fresh builds a new entry for userID stamped with now.
func fresh(userID string, in *models.Conversation, now time.Time) *models.Conversation {
	out := in.Clone()
	out.UserID = userID
	sent, read := now, now
	out.LastMessageAt = &sent
	out.LastReadAt = &read
	return out
}
