package models

import "time"

// Conversation is the summary entry kept per user; message history is not stored here.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId,omitempty"`
	Title         string     `json:"title,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	LastReadAt    *time.Time `json:"lastReadAt,omitempty"`
}

// Clone returns a copy that shares no pointers with c.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	if c.LastReadAt != nil {
		t := *c.LastReadAt
		out.LastReadAt = &t
	}
	return &out
}
