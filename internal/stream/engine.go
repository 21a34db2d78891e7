package stream

import (
	"context"
	"iter"
	"strings"

	"github.com/Copilotuser-cyber/ChatPDT/internal/model"
)

// Engine is the completion engine consumed by the accumulator.
type Engine interface {
	// StreamReply yields reply fragments for newMessage given history. A
	// non-nil error ends the sequence.
	StreamReply(ctx context.Context, history []model.Message, newMessage string, cfg model.ChatConfig) iter.Seq2[string, error]
	// SummarizeTitle returns a short title for a conversation's first
	// message.
	SummarizeTitle(ctx context.Context, firstMessage string) (string, error)
}

// CleanTitle trims whitespace and strips double quotes from an engine
// title. Titles are cut to maxTitleRunes.
func CleanTitle(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if r := []rune(s); len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}

const maxTitleRunes = 48
