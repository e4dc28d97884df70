// Package llm provides the model backend used by roundtable agents: a chat
// client speaking the OpenAI-compatible completions protocol, and an adapter
// that exposes a model as an agent capability.
package llm

import (
	"context"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions tune model sampling.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

// Response is a model's completion.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Client is a chat-completion backend.
type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}
