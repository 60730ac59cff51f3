package main

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/ligustah/bdex/internal/blockstore"
	"github.com/ligustah/bdex/internal/progress"
	"github.com/ligustah/bdex/pkg/manifest"
)

// runVerify checks that every block of an identifier is stored with the
// right hash. Only the manifest is fetched; blocks are read from the store.
func runVerify(args []string) int {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: bdex verify <identifier> [destination] [options]

Check the stored blocks of an identifier against its manifest.
Does not download any block.

Options:`)
		fs.PrintDefaults()
	}

	id, dest, code, ok := parseArgs(fs, args, 2)
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

	fmt.Fprintf(stdout, "File: %s\n", m.Filename)
	fmt.Fprintf(stdout, "Blocks: %d\n", len(m.Blocks))

	store, err := blockstore.Open(ctx, dest, id, blockstore.WithBucketURL(cfg.BlockStore), blockstore.WithReadOnly())
	if err != nil {
		if errors.Is(err, blockstore.ErrNoStore) {
			fmt.Fprintln(stdout, "Status: INVALID")
			fmt.Fprintf(stdout, "No blocks stored: %v\n", err)
			return ExitValidationFailed
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()

	result, err := blockstore.Verify(ctx, store, m.Blocks)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stdout, "Stored: %d (%s)\n", result.Present, progress.FormatBytes(result.Bytes))

	if result.Valid {
		fmt.Fprintln(stdout, "Status: VALID")
		return ExitSuccess
	}

	fmt.Fprintln(stdout, "Status: INVALID")
	fmt.Fprintf(stdout, "Missing blocks: %d\n", result.Missing)
	fmt.Fprintf(stdout, "Hash mismatches: %d\n", result.Mismatched)

	if len(result.Errors) > 0 {
		fmt.Fprintln(stdout, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "  - %s\n", e)
		}
	}

	return ExitValidationFailed
}
