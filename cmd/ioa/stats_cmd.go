package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/memory"
	"github.com/ioa-labs/ioa-core/pkg/observability"
)

type projectStats struct {
	Roundtables     int                      `json:"roundtables"`
	Completed       int                      `json:"completed"`
	NoConsensus     int                      `json:"no_consensus"`
	ByMode          map[string]int           `json:"by_mode"`
	AverageWallTime time.Duration            `json:"average_wall_time"`
	SLO             *observability.SLOStatus `json:"slo,omitempty"`
}

// runStatsCmd implements `ioa stats`.
//
// Aggregates the records database into per-project roundtable totals,
// per-mode counts, average wall time and SLO compliance.
//
// Exit codes:
//
//	0 = stats printed
//	2 = usage error
//	3 = runtime error
func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		project    string
		db         string
		window     int
		sloLatency time.Duration
		sloSuccess float64
		jsonOutput bool
	)
	cmd.StringVar(&project, "project", cfg.Project, "Project to aggregate")
	cmd.StringVar(&db, "db", cfg.MemoryDB, "Records database path")
	cmd.IntVar(&window, "window", 1000, "Number of recent records to aggregate")
	cmd.DurationVar(&sloLatency, "slo-latency", 30*time.Second, "Roundtable p99 wall-time objective")
	cmd.Float64Var(&sloSuccess, "slo-consensus", 0.90, "Roundtable consensus-rate objective in (0,1]")
	cmd.BoolVar(&jsonOutput, "json", false, "Output stats as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if window <= 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --window must be positive")
		return 2
	}

	sink, err := memory.OpenSQLiteSink(db)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open records database: %v\n", err)
		return 3
	}
	defer func() { _ = sink.Close() }()

	records, err := sink.Recent(context.Background(), project, window)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	stats := aggregateRecords(records)
	stats.SLO = sloFromRecords(records, sloLatency, sloSuccess)

	if jsonOutput {
		data, _ := json.MarshalIndent(stats, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if stats.Roundtables == 0 {
		_, _ = fmt.Fprintf(stdout, "No records for project %q\n", project)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Project:       %s\n", project)
	_, _ = fmt.Fprintf(stdout, "Roundtables:   %d\n", stats.Roundtables)
	_, _ = fmt.Fprintf(stdout, "Completed:     %d\n", stats.Completed)
	_, _ = fmt.Fprintf(stdout, "No consensus:  %d\n", stats.NoConsensus)
	_, _ = fmt.Fprintf(stdout, "Avg wall time: %s\n", stats.AverageWallTime.Round(time.Millisecond))
	modes := make([]string, 0, len(stats.ByMode))
	for m := range stats.ByMode {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	_, _ = fmt.Fprintln(stdout, "By mode:")
	for _, m := range modes {
		_, _ = fmt.Fprintf(stdout, "  %-10s %d\n", m, stats.ByMode[m])
	}
	if slo := stats.SLO; slo != nil && slo.ObservationCount > 0 {
		_, _ = fmt.Fprintln(stdout, "SLO:")
		_, _ = fmt.Fprintf(stdout, "  p99 wall time: %.0fms (objective %s)\n", slo.CurrentP99, sloLatency)
		_, _ = fmt.Fprintf(stdout, "  consensus:     %.0f%% (objective %.0f%%)\n", slo.CurrentSuccess*100, sloSuccess*100)
		if slo.InCompliance {
			_, _ = fmt.Fprintf(stdout, "  compliance:    %sok%s\n", ColorGreen, ColorReset)
		} else {
			_, _ = fmt.Fprintf(stdout, "  compliance:    %sbreached%s (error budget left %.0f%%)\n",
				ColorRed, ColorReset, slo.ErrorBudgetLeft)
		}
	}
	return 0
}

// sloFromRecords replays stored roundtable records into the SLO tracker and
// reports compliance against the given objectives. Consensus counts as
// success; wall time is the latency signal.
func sloFromRecords(records []*memory.Record, p99 time.Duration, consensusRate float64) *observability.SLOStatus {
	tracker := observability.NewSLOTracker()
	tracker.SetTarget(&observability.SLOTarget{
		SLOID:       "slo-roundtable-consensus",
		Name:        "roundtable consensus",
		Operation:   observability.OpRoundtable,
		LatencyP99:  p99,
		SuccessRate: consensusRate,
		WindowHours: 24 * 30,
	})
	for _, r := range records {
		obs := observability.SLOObservation{
			Operation: observability.OpRoundtable,
			Success:   r.Status == "completed",
			Timestamp: r.CreatedAt,
		}
		if r.Detail != nil {
			switch ms := r.Detail["wall_time_ms"].(type) {
			case float64:
				obs.Latency = time.Duration(ms) * time.Millisecond
			case int64:
				obs.Latency = time.Duration(ms) * time.Millisecond
			}
		}
		tracker.Record(obs)
	}
	status, err := tracker.Status(observability.OpRoundtable)
	if err != nil {
		return nil
	}
	return status
}

func aggregateRecords(records []*memory.Record) projectStats {
	stats := projectStats{ByMode: make(map[string]int)}
	var wallTotal time.Duration
	var wallSamples int
	for _, r := range records {
		stats.Roundtables++
		switch r.Status {
		case "completed":
			stats.Completed++
		case "no_consensus":
			stats.NoConsensus++
		}
		stats.ByMode[r.Method]++
		if r.Detail != nil {
			// JSON decoding widens the stored integer to float64.
			switch ms := r.Detail["wall_time_ms"].(type) {
			case float64:
				wallTotal += time.Duration(ms) * time.Millisecond
				wallSamples++
			case int64:
				wallTotal += time.Duration(ms) * time.Millisecond
				wallSamples++
			}
		}
	}
	if wallSamples > 0 {
		stats.AverageWallTime = wallTotal / time.Duration(wallSamples)
	}
	return stats
}
