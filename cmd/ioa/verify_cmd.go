package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/config"
)

// runVerifyChainCmd implements `ioa verify-chain`.
//
// Re-reads an audit chain from storage and checks every entry hash,
// every prev-hash link, the manifest, and optionally a signed anchor.
//
// Exit codes:
//
//	0 = chain verified
//	1 = breaks found
//	2 = usage error
//	3 = runtime error
func runVerifyChainCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		chainID    string
		dataDir    string
		anchorPath string
		anchorSeed string
		startAfter int64
		strict     bool
		failFast   bool
		noSig      bool
		jsonOutput bool
	)
	cmd.StringVar(&chainID, "chain", cfg.ChainID, "Audit chain id")
	cmd.StringVar(&dataDir, "data-dir", cfg.ChainDir, "Chain data directory")
	cmd.StringVar(&anchorPath, "anchor", "", "Path to an anchor JSON file to check against")
	cmd.StringVar(&anchorSeed, "anchor-seed", cfg.GrantSecret, "Operator seed for anchor signature checks")
	cmd.Int64Var(&startAfter, "start-after", 0, "Skip entries with event_id at or below this")
	cmd.BoolVar(&strict, "strict", false, "Treat missing manifest and dangling anchor refs as breaks")
	cmd.BoolVar(&failFast, "fail-fast", false, "Stop at the first break")
	cmd.BoolVar(&noSig, "no-signatures", false, "Skip anchor signature checks")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	store, err := openStore(ctx, dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open storage: %v\n", err)
		return 3
	}

	opts := chain.VerifyOptions{
		StartAfter:       startAfter,
		Strict:           strict,
		FailFast:         failFast,
		IgnoreSignatures: noSig,
	}

	if anchorPath != "" {
		data, err := os.ReadFile(anchorPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot read anchor: %v\n", err)
			return 2
		}
		var anchor chain.Anchor
		if err := json.Unmarshal(data, &anchor); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: malformed anchor: %v\n", err)
			return 2
		}
		opts.Anchor = &anchor
		if !noSig && anchorSeed != "" {
			keyring, err := chain.NewAnchorKeyring([]byte(anchorSeed))
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			opts.AnchorPublicKey = keyring.PublicKey()
		}
	}

	result := chain.VerifyChain(ctx, store, chainID, opts)

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printVerifyResult(stdout, result)
	}

	if !result.OK {
		return 1
	}
	return 0
}

func printVerifyResult(w io.Writer, r *chain.Result) {
	if r.OK {
		fmt.Fprintf(w, "%s✓ Chain %s verified%s (%d entries)\n", ColorGreen, r.ChainID, ColorReset, r.Length)
	} else {
		fmt.Fprintf(w, "%s✗ Chain %s FAILED verification%s (%d breaks)\n", ColorRed, r.ChainID, ColorReset, len(r.Breaks))
	}
	if r.RootHash != "" {
		fmt.Fprintf(w, "  Root: %s\n", r.RootHash)
	}
	if r.TipHash != "" {
		fmt.Fprintf(w, "  Tip:  %s\n", r.TipHash)
	}
	for _, b := range r.Breaks {
		if b.EventID > 0 {
			fmt.Fprintf(w, "  %s[%s]%s event %d: %s\n", ColorRed, b.Kind, ColorReset, b.EventID, b.Detail)
		} else {
			fmt.Fprintf(w, "  %s[%s]%s %s\n", ColorRed, b.Kind, ColorReset, b.Detail)
		}
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  %swarning:%s %s\n", ColorYellow, ColorReset, warn)
	}
}
