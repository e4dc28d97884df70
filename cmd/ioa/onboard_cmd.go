package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/ioa-labs/ioa-core/pkg/agent"
)

// runOnboardCmd implements `ioa onboard`.
//
// Validates an agent manifest against the onboarding schema. With
// --dry-run the manifest is only checked; otherwise the resolved
// registration is printed as it would enter the registry.
//
// Exit codes:
//
//	0 = manifest valid
//	1 = manifest rejected
//	2 = usage error
func runOnboardCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("onboard", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifest string
		dryRun   bool
	)
	cmd.StringVar(&manifest, "manifest", "", "Path to agent manifest YAML (REQUIRED)")
	cmd.BoolVar(&dryRun, "dry-run", false, "Validate only, print nothing but the verdict")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifest == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --manifest is required")
		return 2
	}

	m, err := agent.LoadManifest(manifest)
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "Manifest rejected: %v\n", err)
		return 1
	}

	if dryRun {
		_, _ = fmt.Fprintf(stdout, "Manifest OK: %s (schema %s)\n", m.AgentID, m.SchemaVersion)
		return 0
	}

	reg := m.Registration()
	_, _ = fmt.Fprintf(stdout, "Agent:        %s\n", reg.AgentID)
	_, _ = fmt.Fprintf(stdout, "Display name: %s\n", reg.DisplayName)
	_, _ = fmt.Fprintf(stdout, "Capabilities: %v\n", reg.Capabilities)
	_, _ = fmt.Fprintf(stdout, "Weight:       %.2f\n", reg.Weight)
	_, _ = fmt.Fprintf(stdout, "Trust score:  %.3f (%g successes, %g failures)\n",
		reg.TrustScore(), reg.Successes, reg.Failures)
	return 0
}
