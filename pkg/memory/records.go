// Package memory persists finalized roundtable records so later runs can
// consult prior outcomes. The primary sink is a local SQLite database; a
// JSONL sink covers environments without a writable database.
package memory

import (
	"context"
	"time"
)

// Record is one finalized roundtable outcome.
type Record struct {
	RunID         string                 `json:"run_id"`
	Project       string                 `json:"project"`
	Task          string                 `json:"task"`
	Status        string                 `json:"status"`
	WinningOption string                 `json:"winning_option,omitempty"`
	Method        string                 `json:"method"`
	Participants  int                    `json:"participants"`
	CreatedAt     time.Time              `json:"created_at"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

// Sink stores roundtable records.
type Sink interface {
	Save(ctx context.Context, r *Record) error
	Recent(ctx context.Context, project string, limit int) ([]*Record, error)
	Close() error
}
