package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores records in a local SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (or creates) the database at path and runs migrations.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records database: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSink wraps an already open handle, useful for tests.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS roundtable_records (
        run_id         TEXT PRIMARY KEY,
        project        TEXT NOT NULL,
        task           TEXT NOT NULL,
        status         TEXT NOT NULL,
        winning_option TEXT,
        method         TEXT NOT NULL,
        participants   INTEGER NOT NULL DEFAULT 0,
        created_at     DATETIME NOT NULL,
        detail         JSON
    );
    CREATE INDEX IF NOT EXISTS idx_records_project ON roundtable_records(project, created_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save inserts one record.
func (s *SQLiteSink) Save(ctx context.Context, r *Record) error {
	detailJSON, err := json.Marshal(r.Detail)
	if err != nil {
		return fmt.Errorf("failed to serialize record detail: %w", err)
	}
	query := `INSERT INTO roundtable_records (
        run_id, project, task, status, winning_option, method, participants, created_at, detail
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.RunID, r.Project, r.Task, r.Status, r.WinningOption, r.Method, r.Participants,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), string(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Recent returns the newest records for a project, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, project string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT run_id, project, task, status, winning_option, method, participants, created_at, detail
        FROM roundtable_records
        WHERE project = ?
        ORDER BY created_at DESC
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		var r Record
		var winning sql.NullString
		var createdAt, detailJSON string
		if err := rows.Scan(&r.RunID, &r.Project, &r.Task, &r.Status, &winning, &r.Method, &r.Participants, &createdAt, &detailJSON); err != nil {
			return nil, err
		}
		r.WinningOption = winning.String
		if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			r.CreatedAt = t
		}
		if detailJSON != "" && detailJSON != "null" {
			if err := json.Unmarshal([]byte(detailJSON), &r.Detail); err != nil {
				return nil, fmt.Errorf("failed to parse record detail: %w", err)
			}
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
