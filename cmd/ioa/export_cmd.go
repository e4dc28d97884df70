package main

import (
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/ioa-labs/ioa-core/pkg/roundtable"
)

// runExportSchemasCmd implements `ioa export-schemas`.
//
// Writes the JSON Schemas for the roundtable wire types to a directory
// so external consumers can validate tasks, votes and results.
//
// Exit codes:
//
//	0 = schemas written
//	2 = usage error
//	3 = write failed
func runExportSchemasCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export-schemas", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var out string
	cmd.StringVar(&out, "out", "schemas", "Target directory")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	written, err := roundtable.ExportSchemas(out)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	names := make([]string, 0, len(written))
	for name := range written {
		names = append(names, name)
	}
	sort.Strings(names)

	_, _ = fmt.Fprintf(stdout, "%s✓ Exported %d schemas%s\n", ColorGreen, len(written), ColorReset)
	for _, name := range names {
		_, _ = fmt.Fprintf(stdout, "  %-20s %s\n", name, written[name])
	}
	return 0
}
