// Package agent defines the agent capability and the registry of responders
// available to the roundtable executor. An agent is a narrow capability that
// turns a prompt into text with a confidence; provider specifics live behind
// the interface.
package agent

import (
	"context"
	"time"
)

// Response is what an agent produces for one prompt.
type Response struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
}

// Agent produces a response for a task. The context carries the deadline;
// implementations must return promptly once it is cancelled.
type Agent interface {
	Invoke(ctx context.Context, prompt string) (*Response, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, prompt string) (*Response, error)

// Invoke calls the function.
func (f Func) Invoke(ctx context.Context, prompt string) (*Response, error) {
	return f(ctx, prompt)
}
