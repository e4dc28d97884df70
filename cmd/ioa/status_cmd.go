package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/ioa-labs/ioa-core/pkg/chain"
	"github.com/ioa-labs/ioa-core/pkg/config"
	"github.com/ioa-labs/ioa-core/pkg/storage"
)

// runStatusCmd implements `ioa status`.
//
// Prints the manifest summary of an audit chain: length, tip and root
// hashes, and registered anchors.
//
// Exit codes:
//
//	0 = status printed
//	1 = chain does not exist
//	2 = usage error
//	3 = runtime error
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()

	var (
		chainID    string
		dataDir    string
		manifests  string
		jsonOutput bool
	)
	cmd.StringVar(&chainID, "chain", cfg.ChainID, "Audit chain id")
	cmd.StringVar(&dataDir, "data-dir", cfg.ChainDir, "Chain data directory")
	cmd.StringVar(&manifests, "manifests", "agents", "Directory of agent manifest YAMLs")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the manifest as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if !jsonOutput {
		if found, err := filepath.Glob(filepath.Join(manifests, "*.yaml")); err == nil {
			_, _ = fmt.Fprintf(stdout, "Agents:    %d manifests under %s\n", len(found), manifests)
		}
	}

	ctx := context.Background()
	store, err := openStore(ctx, dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot open storage: %v\n", err)
		return 3
	}

	writer := chain.NewWriter(store, cfg.WriterID)
	manifest, err := writer.Manifest(ctx, chainID)
	if errors.Is(err, storage.ErrNotFound) {
		_, _ = fmt.Fprintf(stdout, "Chain %q does not exist\n", chainID)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(manifest, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Chain:     %s\n", manifest.ChainID)
	_, _ = fmt.Fprintf(stdout, "Length:    %d entries\n", manifest.Length)
	_, _ = fmt.Fprintf(stdout, "Tip hash:  %s\n", manifest.TipHash)
	_, _ = fmt.Fprintf(stdout, "Root hash: %s\n", manifest.RootHash)
	_, _ = fmt.Fprintf(stdout, "Created:   %s\n", manifest.CreatedAt)
	_, _ = fmt.Fprintf(stdout, "Last event: %d\n", manifest.LastEventID)
	if len(manifest.AnchorRefs) == 0 {
		_, _ = fmt.Fprintln(stdout, "Anchors:   none")
	} else {
		_, _ = fmt.Fprintln(stdout, "Anchors:")
		for _, ref := range manifest.AnchorRefs {
			_, _ = fmt.Fprintf(stdout, "  %s\n", ref)
		}
	}
	return 0
}
