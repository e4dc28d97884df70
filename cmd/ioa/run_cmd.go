package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ioa-labs/ioa-core/pkg/agent"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/llm"
	"github.com/ioa-labs/ioa-core/pkg/memory"
	"github.com/ioa-labs/ioa-core/pkg/roundtable"
)

// runRoundtableCmd implements `ioa run`.
//
// Onboards agents from manifests, consults the policy engine, runs one
// roundtable and records it on the audit chain.
//
// Exit codes:
//
//	0 = consensus achieved
//	1 = completed without consensus, or policy rejected the task
//	2 = usage error
//	3 = runtime error (storage, backend, audit durability)
func runRoundtableCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		prompt     string
		taskID     string
		capability string
		agentList  string
		manifests  string
		mode       string
		quorum     float64
		timeout    time.Duration
		tieBreaker string
		dataDir    string
		chainID    string
		profile    string
		llmURL     string
		llmModel   string
		jsonOutput bool
	)

	cmd.StringVar(&prompt, "prompt", "", "Question put to the roundtable (REQUIRED)")
	cmd.StringVar(&taskID, "task", "", "Task id (default: generated)")
	cmd.StringVar(&capability, "capability", "", "Capability every agent must hold")
	cmd.StringVar(&agentList, "agents", "", "Comma-separated agent ids (default: all onboarded)")
	cmd.StringVar(&manifests, "manifests", "agents", "Directory of agent manifest YAMLs")
	cmd.StringVar(&mode, "mode", cfg.DefaultMode, "Voting mode: majority, weighted, borda")
	cmd.Float64Var(&quorum, "quorum", cfg.DefaultQuorum, "Quorum ratio in (0,1]")
	cmd.DurationVar(&timeout, "timeout", cfg.DefaultTimeout, "Per-roundtable deadline")
	cmd.StringVar(&tieBreaker, "tie-breaker", "highest_confidence", "Tie breaker: none, highest_confidence, highest_weight, earliest")
	cmd.StringVar(&dataDir, "data-dir", cfg.ChainDir, "Chain data directory")
	cmd.StringVar(&chainID, "chain", cfg.ChainID, "Audit chain id")
	cmd.StringVar(&profile, "profile", "", "Governance profile code")
	cmd.StringVar(&llmURL, "llm-url", envOr("IOA_LLM_URL", "http://localhost:1234/v1"), "OpenAI-compatible backend base URL")
	cmd.StringVar(&llmModel, "llm-model", envOr("IOA_LLM_MODEL", "default"), "Model name")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if prompt == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --prompt is required")
		return 2
	}
	if taskID == "" {
		taskID = "rt-" + uuid.NewString()[:8]
	}

	ctx := context.Background()

	store, err := openStore(ctx, dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open storage: %v\n", err)
		return 3
	}
	writer := chain.NewWriter(store, cfg.WriterID)

	obs, err := buildObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: telemetry unavailable: %v\n", err)
	} else {
		defer func() { _ = obs.Shutdown(ctx) }()
	}

	engine, err := buildEngine(ctx, cfg, profile, writer, chainID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if obs != nil {
		engine.WithObservability(obs)
	}

	registry := agent.NewRegistry()
	client := llm.NewChatClient(llmURL, envOr("IOA_LLM_API_KEY", ""), llmModel)
	onboarded, err := onboardAgents(registry, manifests, client)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ids := onboarded
	if agentList != "" {
		ids = strings.Split(agentList, ",")
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	}

	exec := roundtable.NewExecutor(registry, writer, chainID).
		WithPolicyEngine(engine).
		WithMaxWorkers(cfg.MaxWorkers)
	if obs != nil {
		exec.WithObservability(obs)
	}

	if sink, err := memory.OpenSQLiteSink(cfg.MemoryDB); err == nil {
		defer func() { _ = sink.Close() }()
		exec.WithMemorySink(sink, cfg.Project)
	} else {
		_, _ = fmt.Fprintf(stderr, "Warning: records database unavailable: %v\n", err)
	}

	task := roundtable.Task{
		TaskID:      taskID,
		Prompt:      prompt,
		Capability:  capability,
		SubmittedAt: time.Now().UTC(),
	}
	result, err := exec.ExecuteRoundtable(ctx, task, ids, roundtable.Options{
		Mode:        roundtable.Mode(mode),
		Timeout:     timeout,
		QuorumRatio: quorum,
		TieBreaker:  roundtable.TieBreaker(tieBreaker),
	})
	if err != nil {
		if errors.Is(err, roundtable.ErrPolicyRejected) {
			_, _ = fmt.Fprintf(stderr, "Policy rejected task %s: %v\n", taskID, err)
			return 1
		}
		if errors.Is(err, chain.ErrDurability) {
			_, _ = fmt.Fprintf(stderr, "Error: audit write failed: %v\n", err)
			return 3
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, result)
	}

	if !result.ConsensusAchieved {
		return 1
	}
	return 0
}

func printResult(w io.Writer, r *roundtable.Result) {
	fmt.Fprintf(w, "Task:      %s\n", r.TaskID)
	fmt.Fprintf(w, "Mode:      %s (quorum %.2f)\n", r.Mode, r.QuorumRatio)
	if r.ConsensusAchieved {
		fmt.Fprintf(w, "Outcome:   %s%s%s (score %.2f)\n", ColorBold+ColorGreen, r.WinningOption, ColorReset, r.ConsensusScore)
	} else if r.WinningOption != "" {
		fmt.Fprintf(w, "Outcome:   %s leads, no consensus (score %.2f)\n", r.WinningOption, r.ConsensusScore)
	} else {
		fmt.Fprintf(w, "Outcome:   no winner (%s)\n", r.Explanation)
	}
	if r.TieBreakerApplied != "" {
		fmt.Fprintf(w, "Tie-break: %s\n", r.TieBreakerApplied)
	}
	fmt.Fprintf(w, "Wall time: %s\n", r.WallTime.Round(time.Millisecond))
	fmt.Fprintln(w, "Votes:")
	for _, v := range r.Votes {
		switch v.State {
		case roundtable.VoteReady:
			fmt.Fprintf(w, "  %-16s %-20q conf %.2f weight %.2f (%s)\n",
				v.AgentID, v.Option, v.Confidence, v.Weight, v.Latency.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "  %-16s %s (%s)\n", v.AgentID, v.State, v.ErrorKind)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
