package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/agent"
)

// DefaultConfidence is assumed when a model does not report one.
const DefaultConfidence = 0.5

// confidenceLine matches a trailing "confidence: 0.8" style marker.
var confidenceLine = regexp.MustCompile(`(?im)^\s*confidence:\s*([0-9]*\.?[0-9]+)\s*$`)

// AgentAdapter exposes a chat model as a roundtable agent. The system
// prompt fixes the persona; the task prompt arrives as the user message.
type AgentAdapter struct {
	client       Client
	systemPrompt string
	options      *SamplingOptions
}

// NewAgent wraps a chat client as an agent with the given system prompt.
func NewAgent(client Client, systemPrompt string) *AgentAdapter {
	return &AgentAdapter{client: client, systemPrompt: systemPrompt}
}

// WithSampling sets the sampling options forwarded on every invocation.
func (a *AgentAdapter) WithSampling(options *SamplingOptions) *AgentAdapter {
	a.options = options
	return a
}

// Invoke sends the prompt to the model and converts the completion into an
// agent response. A trailing "confidence: <0..1>" line in the completion is
// parsed and stripped; without one the confidence defaults to 0.5.
func (a *AgentAdapter) Invoke(ctx context.Context, prompt string) (*agent.Response, error) {
	msgs := []Message{}
	if a.systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: a.systemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	started := time.Now()
	resp, err := a.client.Chat(ctx, msgs, a.options)
	if err != nil {
		return nil, err
	}

	text, confidence := splitConfidence(resp.Content)
	return &agent.Response{
		Text:       text,
		Confidence: confidence,
		Latency:    time.Since(started),
	}, nil
}

func splitConfidence(content string) (string, float64) {
	m := confidenceLine.FindStringSubmatch(content)
	if m == nil {
		return strings.TrimSpace(content), DefaultConfidence
	}
	c, err := strconv.ParseFloat(m[1], 64)
	if err != nil || c < 0 || c > 1 {
		c = DefaultConfidence
	}
	text := confidenceLine.ReplaceAllString(content, "")
	return strings.TrimSpace(text), c
}
