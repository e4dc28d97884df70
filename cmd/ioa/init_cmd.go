package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const sampleManifest = `schema_version: "1.0.0"
agent_id: reviewer-1
display_name: Reviewer One
capabilities:
  - review
  - vote
weight: 1.0
trust:
  successes: 0
  failures: 0
`

const sampleProfile = `name: Default governance profile
policy_mode: enforce
jurisdictions:
  inference: |
    classification != "restricted"
rate_limit:
  rpm: 60
  burst: 10
fairness:
  window_size: 100
  threshold: 0.8
sustainability:
  monthly_limit_kwh: 100
retention:
  audit_log_days: 365
  record_days: 90
`

// runInitCmd implements `ioa init`.
//
// Scaffolds a project directory: chain data dir, governance profiles,
// and a sample agent manifest.
//
// Exit codes:
//
//	0 = directory initialized
//	2 = usage error
//	3 = write failed
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	root := "."
	if cmd.NArg() > 0 {
		root = cmd.Arg(0)
	}

	dirs := []string{
		filepath.Join(root, "data"),
		filepath.Join(root, "profiles"),
		filepath.Join(root, "agents"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot create %s: %v\n", dir, err)
			return 3
		}
	}

	files := map[string]string{
		filepath.Join(root, "profiles", "profile_default.yaml"): sampleProfile,
		filepath.Join(root, "agents", "reviewer-1.yaml"):        sampleManifest,
	}
	for path, content := range files {
		if _, err := os.Stat(path); err == nil {
			_, _ = fmt.Fprintf(stdout, "  exists  %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", path, err)
			return 3
		}
		_, _ = fmt.Fprintf(stdout, "  created %s\n", path)
	}

	_, _ = fmt.Fprintf(stdout, "%s✓ Initialized%s %s\n", ColorGreen, ColorReset, root)
	_, _ = fmt.Fprintln(stdout, "Next: edit agents/reviewer-1.yaml, then `ioa run --prompt \"...\"`")
	return 0
}
