package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleRunes = 50
	fallbackTitle = "New Chat"
	titlePrompt   = "You are a conversation title generator. " +
		"Based on the first message of a conversation with a Solana assistant, generate a concise title of at most six words. " +
		"Output only the title; do not include quotes or any additional content.\n\nMessage:\n%s"
)

// Completer runs a single prompt against a chat model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TitleService names new conversations. With no completer, or when the
// model fails, the title is derived from the message text.
type TitleService struct {
	completer Completer
}

func NewTitleService(completer Completer) *TitleService {
	return &TitleService{completer: completer}
}

func (s *TitleService) GenerateTitle(ctx context.Context, firstMessage string) string {
	if s == nil || s.completer == nil {
		return DefaultTitle(firstMessage)
	}
	resp, err := s.completer.Complete(ctx, fmt.Sprintf(titlePrompt, stripHint(firstMessage)))
	if err != nil {
		log.Printf("[title] generate title failed: %v", err)
		return DefaultTitle(firstMessage)
	}
	title := strings.Trim(strings.TrimSpace(resp), "\"'")
	if title == "" {
		return DefaultTitle(firstMessage)
	}
	return truncate(title)
}

// DefaultTitle uses the first line of message, cut to a short length.
func DefaultTitle(message string) string {
	text := strings.TrimSpace(stripHint(message))
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return fallbackTitle
	}
	return truncate(text)
}

func stripHint(message string) string {
	if idx := strings.Index(message, "\n\n[Context: "); idx >= 0 {
		return message[:idx]
	}
	return message
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxTitleRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
}
