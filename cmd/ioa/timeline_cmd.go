package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/observability"
)

// runTimelineCmd implements `ioa timeline`.
//
// Loads an audit chain into the queryable timeline view and prints the
// matching entries in event order.
//
// Exit codes:
//
//	0 = entries printed (possibly none)
//	2 = usage error
//	3 = runtime error
func runTimelineCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("timeline", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		chainID    string
		dataDir    string
		eventType  string
		limit      int
		jsonOutput bool
	)
	cmd.StringVar(&chainID, "chain", cfg.ChainID, "Audit chain id")
	cmd.StringVar(&dataDir, "data-dir", cfg.ChainDir, "Chain data directory")
	cmd.StringVar(&eventType, "type", "", "Filter by event type")
	cmd.IntVar(&limit, "limit", 0, "Maximum entries to show (0 = all)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output entries as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	store, err := openStore(ctx, dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open storage: %v\n", err)
		return 3
	}

	tl := observability.NewAuditTimeline()
	if err := tl.LoadChain(ctx, store, chainID); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	entries := tl.Query(observability.TimelineQuery{
		ChainID:   chainID,
		EventType: eventType,
		Limit:     limit,
	})

	if jsonOutput {
		data, _ := json.MarshalIndent(entries, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintf(stdout, "No entries in chain %q\n", chainID)
		return 0
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(stdout, "%06d  %s  %-24s %s\n",
			e.EventID, e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, shortHash(e.Hash))
	}
	return 0
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
