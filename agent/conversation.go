package agent

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Conversation tracks a conversation id across chat calls. An empty
// Conversation captures the id from the first successful response; workers
// racing in ChatMany agree on a single winner. Safe for concurrent use.
type Conversation struct {
	mu sync.Mutex
	id string
}

// NewConversation creates a conversation that captures its id from the
// first successful chat response.
func NewConversation() *Conversation { return &Conversation{} }

// NewConversationWithID creates a conversation seeded with an existing id.
func NewConversationWithID(id string) *Conversation { return &Conversation{id: id} }

// StartConversation creates a conversation pre-seeded with a fresh ULID, so
// the id is known before the first request. Use this with ChatMany, where
// concurrent requests would otherwise race to capture the server's id.
func StartConversation() *Conversation {
	return &Conversation{id: ulid.Make().String()}
}

// ID returns the conversation id, or "" before the first capture.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// captureIfAbsent sets the id only when still empty and returns the id now
// in effect.
func (c *Conversation) captureIfAbsent(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == "" {
		c.id = id
	}
	return c.id
}

// validID reports whether id is in the ULID format the platform expects.
func validID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

type conversationKey struct{}

// WithConversation returns a context whose chat calls share conv. Nested
// calls override: the innermost Conversation wins. Goroutines inheriting
// the context, including ChatMany workers, share the same conversation.
func WithConversation(ctx context.Context, conv *Conversation) context.Context {
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFrom returns the Conversation carried by ctx, if any.
func ConversationFrom(ctx context.Context) (*Conversation, bool) {
	conv, ok := ctx.Value(conversationKey{}).(*Conversation)
	return conv, ok
}
