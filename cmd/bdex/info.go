package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/ligustah/bdex/internal/progress"
	"github.com/ligustah/bdex/pkg/manifest"
)

// runInfo fetches and prints the manifest of an identifier without
// downloading any block.
func runInfo(args []string) int {
	fs := pflag.NewFlagSet("info", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	blocks := fs.BoolP("blocks", "b", false, "List every block")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: bdex info <identifier> [options]

Print the manifest of an identifier.

Options:`)
		fs.PrintDefaults()
	}

	id, _, code, ok := parseArgs(fs, args, 1)
	if !ok {
		return code
	}

	cfg, err := common.load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	setupLogging(cfg.Verbose)

	ctx, cancel := signalContext()
	defer cancel()

	m, err := manifest.Fetch(ctx, newClient(cfg), cfg.ManifestURL, id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitManifestError
	}

	progress.PrintManifest(stdout, m)
	if *blocks {
		for i, b := range m.Blocks {
			fmt.Fprintf(stdout, "[%d/%d] %s %s %s\n", i+1, len(m.Blocks), b.SHA1, progress.FormatBytes(b.Size), b.URL)
		}
	}
	return ExitSuccess
}
