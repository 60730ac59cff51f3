package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ligustah/bdex/internal/blockstore"
	"github.com/ligustah/bdex/internal/progress"
)

// runClean removes the stored blocks of an identifier. By default prompts
// for confirmation unless --force is specified.
func runClean(args []string) int {
	fs := pflag.NewFlagSet("clean", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	force := fs.BoolP("force", "f", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: bdex clean <identifier> [destination] [options]

Remove the stored blocks of an identifier. Merged output files are kept.

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

	store, err := blockstore.Open(ctx, dest, id, blockstore.WithBucketURL(cfg.BlockStore), blockstore.WithReadOnly())
	if err != nil {
		if errors.Is(err, blockstore.ErrNoStore) {
			fmt.Fprintf(stderr, "%s Nothing to clean for %s\n", progress.Prefix, id)
			return ExitSuccess
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	defer store.Close()

	location := store.Dir()
	if location == "" {
		location = cfg.BlockStore + " (" + id + "/)"
	}

	if !*force {
		fmt.Fprintf(stdout, "Remove stored blocks in %s? [y/N]: ", location)
		response, _ := bufio.NewReader(stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(stderr, "Cancelled")
			return ExitSuccess
		}
	}

	if err := store.Destroy(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Fprintf(stderr, "%s Removed: %s\n", progress.Prefix, location)
	return ExitSuccess
}
