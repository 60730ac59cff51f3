package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/ligustah/bdex/internal/downloader"
	"github.com/ligustah/bdex/internal/progress"
)

// runGet downloads every block of an identifier and merges them into
// <destination>/<filename>. Blocks already stored are reused, so an
// interrupted or incomplete run resumes where it stopped.
func runGet(args []string) int {
	fs := pflag.NewFlagSet("get", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	skipHash := fs.BoolP("skip-hash", "S", false, "Trust stored blocks without hashing them")
	workers := fs.IntP("workers", "j", 8, "Number of parallel block downloads")
	retries := fs.IntP("retry-times", "R", 8, "Download attempts per block")
	keep := fs.BoolP("keep", "k", false, "Keep the block directory after merging")
	verifyBlocks := fs.Bool("verify-blocks", false, "Check the SHA-1 of every downloaded block")
	verifyOutput := fs.Bool("verify-output", false, "Fail when the merged file does not match the manifest")
	showProgress := fs.Bool("progress", false, "Print a periodic status line")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: bdex [get] <identifier> [destination] [options]

Download every block of an identifier and merge them into a file in
destination (default: current directory). Run again to resume.

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
	if fs.Changed("skip-hash") {
		cfg.SkipHash = *skipHash
	}
	if fs.Changed("workers") {
		cfg.Workers = *workers
	}
	if fs.Changed("retry-times") {
		cfg.Retry.Attempts = *retries
	}
	if fs.Changed("keep") {
		cfg.KeepBlocks = *keep
	}
	if fs.Changed("verify-blocks") {
		cfg.VerifyBlocks = *verifyBlocks
	}
	if fs.Changed("verify-output") {
		cfg.VerifyOutput = *verifyOutput
	}
	if fs.Changed("progress") {
		cfg.Progress = *showProgress
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	setupLogging(cfg.Verbose)

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := downloader.Retrieve(ctx, downloader.Request{
		ID:            id,
		Dest:          dest,
		ManifestURL:   cfg.ManifestURL,
		Getter:        newClient(cfg),
		BlockStoreURL: cfg.BlockStore,
		KeepBlocks:    cfg.KeepBlocks,
		VerifyOutput:  cfg.VerifyOutput,
		Options: downloader.Options{
			Workers:      cfg.Workers,
			Attempts:     cfg.Retry.Attempts,
			SkipHash:     cfg.SkipHash,
			VerifyBlocks: cfg.VerifyBlocks,
			StallBackoff: cfg.Retry.StallBackoff,
		},
		Output:   stderr,
		Periodic: cfg.Progress,
		MergeBar: isTerminal(stderr),
	})

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(stderr, "%s Interrupted, run again to resume\n", progress.Prefix)
			return ExitGeneralError
		}

		var incomplete *downloader.IncompleteError
		if errors.As(err, &incomplete) {
			for _, f := range incomplete.Failed {
				fmt.Fprintf(stderr, "%s Block %d (%s) failed after %d attempts\n",
					progress.Prefix, f.Index+1, f.SHA1, f.Attempts)
			}
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	if !summary.Matches {
		fmt.Fprintf(stderr, "%s Warning: %s does not match the manifest size or hash\n", progress.Prefix, summary.Output)
	}
	fmt.Fprintf(stderr, "%s Saved: %s (%s)\n", progress.Prefix, summary.Output, progress.FormatBytes(summary.Merge.Bytes))
	if summary.Kept {
		fmt.Fprintf(stderr, "%s Blocks kept for identifier %s\n", progress.Prefix, id)
	}
	return ExitSuccess
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
