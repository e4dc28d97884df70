package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/memory"
)

// runRecentCmd implements `ioa recent`.
//
// Lists recent roundtable records from the local records database,
// newest first.
//
// Exit codes:
//
//	0 = records printed (possibly none)
//	2 = usage error
//	3 = runtime error
func runRecentCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("recent", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		project    string
		limit      int
		db         string
		jsonOutput bool
	)
	cmd.StringVar(&project, "project", cfg.Project, "Project to list records for")
	cmd.IntVar(&limit, "limit", 10, "Maximum records to show")
	cmd.StringVar(&db, "db", cfg.MemoryDB, "Records database path")
	cmd.BoolVar(&jsonOutput, "json", false, "Output records as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if limit <= 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --limit must be positive")
		return 2
	}

	sink, err := memory.OpenSQLiteSink(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open records database: %v\n", err)
		return 3
	}
	defer func() { _ = sink.Close() }()

	records, err := sink.Recent(context.Background(), project, limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(records, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintf(stdout, "No records for project %q\n", project)
		return 0
	}
	for _, r := range records {
		outcome := r.WinningOption
		if outcome == "" {
			outcome = "-"
		}
		_, _ = fmt.Fprintf(stdout, "%s  %-12s %-10s %-8s %d agents  %q\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.RunID, r.Status, r.Method, r.Participants, outcome)
	}
	return 0
}
