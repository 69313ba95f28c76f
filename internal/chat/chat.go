// Package chat holds chat-side identities, the thread lifecycle events and
// the per-thread entity that accumulates posted messages.
package chat

import (
	"context"

	"chatbot/internal/repository"
)

// SpaceID is a chat space resource name, e.g. "spaces/AAAAxyz".
type SpaceID string

// ThreadID is the internal identity of a thread, derived from a repository.
type ThreadID string

// MessageID is the resource name of a posted message.
type MessageID string

// ThreadResource is the messaging platform's name for a thread,
// e.g. "spaces/AAAAxyz/threads/abc". Empty means no thread yet.
type ThreadResource string

// ThreadIDOf derives the one thread identity a repository maps to.
func ThreadIDOf(id repository.ID) ThreadID {
	return ThreadID("thread:" + string(id))
}

// SentMessage is what the messaging platform returns for a posted message.
// Both fields are always set on success.
type SentMessage struct {
	Message MessageID
	Thread  ThreadResource
}

// Sender posts a text message into a space. When resource is empty the
// platform creates a new thread; otherwise the message is a reply in it.
type Sender interface {
	Send(ctx context.Context, space SpaceID, resource ThreadResource, text string) (SentMessage, error)
}
