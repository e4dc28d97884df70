package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONLSink appends records to a newline-delimited JSON file. It is the
// fallback for environments without a writable SQLite database.
type JSONLSink struct {
	mu   sync.Mutex
	path string
}

// NewJSONLSink uses the file at path, creating it on first save.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Save appends one record as a single JSON line.
func (s *JSONLSink) Save(ctx context.Context, r *Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open records file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return f.Sync()
}

// Recent scans the file and returns the newest matching records, newest
// first.
func (s *JSONLSink) Recent(ctx context.Context, project string, limit int) ([]*Record, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var matched []*Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if r.Project == project {
			matched = append(matched, &r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// File order is oldest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Close is a no-op; the file is opened per operation.
func (s *JSONLSink) Close() error { return nil }
