// Package agent provides synchronous chat against platform AI agents, with
// conversation tracking propagated through context.Context.
package agent

import (
	"strconv"

	"github.com/google/uuid"
)

// ChatStatus is the terminal outcome of a chat call.
type ChatStatus string

const (
	// ChatSuccess means the agent answered.
	ChatSuccess ChatStatus = "SUCCESS"
	// ChatError covers HTTP failures, network issues and undecodable bodies.
	ChatError ChatStatus = "ERROR"
	// ChatTimeout means the call exceeded its request timeout.
	ChatTimeout ChatStatus = "TIMEOUT"
)

// TokenUsage reports tokens consumed in each processing stage.
type TokenUsage struct {
	User       int
	Enrichment int
	Output     int
}

// Total is the sum across all stages.
func (u TokenUsage) Total() int { return u.User + u.Enrichment + u.Output }

// ChatRequest is one message for an agent. The zero value is not usable;
// construct with NewChatRequest.
type ChatRequest struct {
	ID     string
	Prompt string
	// ConversationID continues an existing conversation. When set it takes
	// precedence over any Conversation carried by the context.
	ConversationID string
	// UseConversation asks the server to keep conversational state. Forced
	// on when a Conversation in scope supplies the id.
	UseConversation bool
	// UseKnowledgeSources enables knowledge-source enrichment.
	UseKnowledgeSources bool
	// ReturnKnowledgeSources asks for the consulted source ids back.
	ReturnKnowledgeSources bool
	Metadata               map[string]any
}

// NewChatRequest creates a request with a generated id and knowledge-source
// enrichment enabled.
func NewChatRequest(prompt string) *ChatRequest {
	return &ChatRequest{
		ID:                  uuid.NewString(),
		Prompt:              prompt,
		UseKnowledgeSources: true,
	}
}

// payload builds the chat API body. The platform expects the knowledge flag
// as the strings "true"/"false", not a JSON boolean.
func (r *ChatRequest) payload() map[string]any {
	p := map[string]any{
		"user_prompt":          r.Prompt,
		"streaming":            false,
		"use_conversation":     r.UseConversation,
		"stackspot_knowledge":  strconv.FormatBool(r.UseKnowledgeSources),
		"return_ks_in_response": r.ReturnKnowledgeSources,
	}
	if r.ConversationID != "" {
		p["conversation_id"] = r.ConversationID
	}
	return p
}

// enriched returns a copy carrying the conversation id from the active
// scope. Requests with an explicit id are returned unchanged.
func (r *ChatRequest) enriched(conversationID string) *ChatRequest {
	if r.ConversationID != "" {
		return r
	}
	copied := *r
	copied.UseConversation = true
	copied.ConversationID = conversationID
	return &copied
}

// ChatResponse is the terminal envelope of a chat call. Chat never returns
// errors; inspect Status and Error instead.
type ChatResponse struct {
	Request    *ChatRequest
	Status     ChatStatus
	Message    string
	StopReason string
	Tokens     TokenUsage
	// ConversationID continues this exchange in a follow-up request.
	ConversationID string
	// KnowledgeSources lists the source ids consulted, when requested.
	KnowledgeSources []string
	Error            string
	RawResponse      map[string]any
}

func (r *ChatResponse) IsSuccess() bool { return r.Status == ChatSuccess }
func (r *ChatResponse) IsError() bool   { return r.Status == ChatError }
func (r *ChatResponse) IsTimeout() bool { return r.Status == ChatTimeout }
