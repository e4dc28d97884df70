package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ioa-labs/ioa-core/pkg/agent"
	"github.com/ioa-labs/ioa-core/pkg/approvals"
	"github.com/ioa-labs/ioa-core/pkg/budget"
	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/llm"
	"github.com/ioa-labs/ioa-core/pkg/observability"
	"github.com/ioa-labs/ioa-core/pkg/policy"
	"github.com/ioa-labs/ioa-core/pkg/ratelimit"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// openStore opens the blob store backing the audit chains. A nonempty
// dataDir forces the filesystem backend; otherwise the IOA_STORAGE_*
// environment selects the backend.
func openStore(ctx context.Context, dataDir string) (storage.Blob, error) {
	if dataDir != "" {
		return storage.NewFileStore(dataDir)
	}
	return storage.NewStoreFromEnv(ctx)
}

// onboardAgents loads every *.yaml manifest under dir and registers each
// agent against the shared chat backend. Returns the onboarded agent ids in
// sorted order.
func onboardAgents(registry *agent.Registry, dir string, client llm.Client) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no agent manifests found under %s", dir)
	}

	var ids []string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		m, err := agent.ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		persona := fmt.Sprintf(
			"You are %s, one voter in an agent roundtable. Answer the question with your chosen option only, then a line \"confidence: <0..1>\".",
			m.Registration().DisplayName)
		if _, err := registry.Onboard(data, llm.NewAgent(client, persona)); err != nil {
			return nil, fmt.Errorf("onboard %s: %w", path, err)
		}
		ids = append(ids, m.AgentID)
	}
	sort.Strings(ids)
	return ids, nil
}

// buildEngine assembles the policy engine from config and an optional
// governance profile. Every decision is recorded on the given audit chain.
func buildEngine(ctx context.Context, cfg *config.Config, profileCode string, writer *chain.Writer, chainID string) (*policy.Engine, error) {
	mode := policy.Mode(cfg.PolicyMode)
	var profile *config.GovernanceProfile
	if profileCode != "" {
		p, err := config.LoadProfile(cfg.ProfilesDir, profileCode)
		if err != nil {
			return nil, err
		}
		profile = p
		if profile.PolicyMode != "" {
			mode = policy.Mode(profile.PolicyMode)
		}
	}

	switch mode {
	case policy.ModeMonitor, policy.ModeEnforce, policy.ModeStrict:
	default:
		return nil, fmt.Errorf("unknown policy mode %q", mode)
	}

	engine := policy.NewEngine(mode)
	if writer != nil {
		engine.WithAuditChain(writer, chainID)
	}
	if cfg.GrantSecret != "" {
		tm, err := approvals.NewTokenManager([]byte(cfg.GrantSecret))
		if err != nil {
			return nil, fmt.Errorf("IOA_GRANT_SECRET: %w", err)
		}
		engine.WithGrants(tm)
	}
	if profile == nil {
		return engine, nil
	}

	if len(profile.Jurisdictions) > 0 {
		rules, err := policy.NewJurisdictionRules()
		if err != nil {
			return nil, err
		}
		for actionType, source := range profile.Jurisdictions {
			if err := rules.Load(actionType, source); err != nil {
				return nil, fmt.Errorf("profile %s: %w", profile.Code, err)
			}
		}
		engine.WithJurisdictions(rules)
	}
	if profile.RateLimit.RPM > 0 {
		var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter()
		if cfg.RedisAddr != "" {
			limiter = ratelimit.NewRedisLimiter(cfg.RedisAddr, "", 0)
		}
		engine.WithLimiter(limiter, ratelimit.Policy{
			RPM:   profile.RateLimit.RPM,
			Burst: profile.RateLimit.Burst,
		})
	}
	if profile.Sustainability.MonthlyLimitKWh > 0 {
		tracker, err := buildBudgetTracker(ctx, cfg, profile.Sustainability.MonthlyLimitKWh)
		if err != nil {
			return nil, err
		}
		engine.WithBudget(tracker, cfg.Project)
	}
	if profile.Fairness.WindowSize > 0 {
		monitor := policy.NewFairnessMonitor(profile.Fairness.WindowSize, profile.Fairness.Reference)
		engine.WithFairness(monitor, profile.Fairness.Threshold)
	}
	return engine, nil
}

// buildBudgetTracker selects the sustainability tracker backend. A database
// URL gives cross-process accounting; without one the budget window is the
// life of this process.
func buildBudgetTracker(ctx context.Context, cfg *config.Config, limitKWh float64) (budget.Tracker, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("budget database: %w", err)
		}
		tracker := budget.NewPostgresTracker(db)
		if err := tracker.SetLimit(ctx, cfg.Project, limitKWh); err != nil {
			return nil, fmt.Errorf("budget database: %w", err)
		}
		return tracker, nil
	}
	tracker := budget.NewMemoryTracker()
	tracker.SetLimit(cfg.Project, limitKWh)
	return tracker, nil
}

// buildObservability initializes telemetry. Export is off unless an OTLP
// endpoint is configured; spans still reach any globally installed tracer.
func buildObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Environment = cfg.Region
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	return observability.New(ctx, obsCfg)
}
