// Package assistant produces the automated participant's replies and the
// images requested with generate_image. Both are slow external calls and are
// always made without holding any room lock.
package assistant

import (
	"context"
	"errors"
	"strings"

	"ephemeral-chat/internal/room"
)

var (
	// ErrNoReply means the backend answered but produced no text.
	ErrNoReply = errors.New("assistant produced no reply")
	// ErrUnavailable means the capability is not configured.
	ErrUnavailable = errors.New("assistant capability unavailable")
)

const DefaultSystemPrompt = "You are a friendly assistant taking part in a small group chat. Keep replies short."

type Request struct {
	System  string
	Context []room.Turn
	Prompt  string
}

type Responder interface {
	Reply(ctx context.Context, req Request) (string, error)
}

type Imager interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ImagePrompt returns explicit when set, otherwise a prompt built from the
// recent conversation.
func ImagePrompt(explicit string, recent []room.Message) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if len(recent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("An illustration of this chat conversation:")
	for _, m := range recent {
		b.WriteString("\n")
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
