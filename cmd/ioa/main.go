package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v1.0.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "run":
		return runRoundtableCmd(args[2:], stdout, stderr)
	case "recent":
		return runRecentCmd(args[2:], stdout, stderr)
	case "stats":
		return runStatsCmd(args[2:], stdout, stderr)
	case "onboard":
		return runOnboardCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "timeline":
		return runTimelineCmd(args[2:], stdout, stderr)
	case "verify-chain":
		return runVerifyChainCmd(args[2:], stdout, stderr)
	case "anchor":
		return runAnchorCmd(args[2:], stdout, stderr)
	case "export-schemas":
		return runExportSchemasCmd(args[2:], stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "ioa %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sIOA Core %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sAgents vote. The chain remembers.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  ioa <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ROUNDTABLE")
	printCommand(w, "run", "Execute a roundtable (--prompt, --agents, --mode)")
	printCommand(w, "recent", "Show recent roundtable records (--project, --limit)")
	printCommand(w, "stats", "Aggregate roundtable stats from the records database")
	printCommand(w, "onboard", "Validate and register an agent manifest (--manifest, --dry-run)")

	printSection(w, "AUDIT CHAIN")
	printCommand(w, "status", "Show chain status and manifest summary")
	printCommand(w, "timeline", "Query the audit timeline (--chain, --type)")
	printCommand(w, "verify-chain", "Verify chain integrity (--chain, --anchor, --strict)")
	printCommand(w, "anchor", "Write a signed anchor for the current root (--chain)")

	printSection(w, "UTILITIES")
	printCommand(w, "export-schemas", "Write JSON Schemas for the wire types (--out)")
	printCommand(w, "init", "Initialize a project directory")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-14s%s %s\n", ColorGreen, name, ColorReset, desc)
}
