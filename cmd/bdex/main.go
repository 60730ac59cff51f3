package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/pflag"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/bdex/internal/config"
	"github.com/ligustah/bdex/internal/downloader"
	bdexhttp "github.com/ligustah/bdex/internal/http"
	"github.com/ligustah/bdex/internal/progress"
	"github.com/ligustah/bdex/pkg/manifest"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitManifestError    = 3
	ExitOutputExists     = 4
	ExitStorageError     = 5
	ExitIncomplete       = 6
	ExitValidationFailed = 7
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "get":
		return runGet(cmdArgs)
	case "info":
		return runInfo(cmdArgs)
	case "verify":
		return runVerify(cmdArgs)
	case "clean":
		return runClean(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		// "bdex <identifier>" is short for "bdex get <identifier>".
		return runGet(args)
	}
}

func printUsage() {
	fmt.Fprintln(stderr, `Usage: bdex [get] <identifier> [destination] [options]
       bdex <command> <identifier> [destination] [options]

Commands:
  get       Download every block of an identifier and merge them into a file
  info      Print the manifest of an identifier
  verify    Check stored blocks against the manifest
  clean     Remove the stored blocks of an identifier

Run 'bdex <command> -h' for command-specific help.`)
}

// commonFlags are accepted by every command.
type commonFlags struct {
	config      *string
	manifestURL *string
	blockStore  *string
	verbose     *bool
}

func addCommonFlags(fs *pflag.FlagSet) *commonFlags {
	return &commonFlags{
		config:      fs.StringP("config", "c", "", "YAML configuration file"),
		manifestURL: fs.String("manifest-url", "", "Manifest URL template, %s is replaced by the identifier"),
		blockStore:  fs.String("block-store", "", "Store blocks in a bucket URL (s3://, gs://, file://) instead of <destination>/<identifier>"),
		verbose:     fs.BoolP("verbose", "v", false, "Enable debug logging"),
	}
}

// load builds the configuration from defaults, the config file, the
// environment and the flags that were set, in that order.
func (c *commonFlags) load(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if *c.config != "" {
		var err error
		cfg, err = config.LoadFromFile(*c.config)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	if fs.Changed("manifest-url") {
		cfg.ManifestURL = *c.manifestURL
	}
	if fs.Changed("block-store") {
		cfg.BlockStore = *c.blockStore
	}
	if fs.Changed("verbose") {
		cfg.Verbose = *c.verbose
	}
	return cfg, nil
}

// parseArgs parses fs and returns the identifier and destination. ok is
// false when the command should exit with code.
func parseArgs(fs *pflag.FlagSet, args []string, maxArgs int) (id, dest string, code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", "", ExitSuccess, false
		}
		return "", "", ExitInvalidArgs, false
	}

	rest := fs.Args()
	if len(rest) == 0 || len(rest) > maxArgs {
		fmt.Fprintln(stderr, "Error: expected an identifier and at most one destination")
		fs.Usage()
		return "", "", ExitInvalidArgs, false
	}

	id, err := manifest.ParseIdentifier(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return "", "", ExitInvalidArgs, false
	}

	dest = "."
	if len(rest) > 1 {
		dest = rest[1]
	}
	return id, dest, ExitSuccess, true
}

func setupLogging(verbose bool) {
	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	logging.SetAllLoggers(level)
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(stderr, "\n%s Received interrupt, shutting down...\n", progress.Prefix)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func newClient(cfg config.Config) *bdexhttp.Client {
	return bdexhttp.NewClient(bdexhttp.Options{
		MaxIdleConnsPerHost: cfg.Workers * 2,
		Timeout:             cfg.HTTP.Timeout,
		RetryAttempts:       cfg.HTTP.RetryAttempts,
		RetryBackoff:        cfg.HTTP.RetryBackoff,
		RetryMaxBackoff:     cfg.HTTP.RetryMaxBackoff,
		RateLimit:           cfg.HTTP.RateLimit,
		UserAgent:           cfg.HTTP.UserAgent,
	})
}

// exitCode maps a retrieval error to the process exit code.
func exitCode(err error) int {
	var incomplete *downloader.IncompleteError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, manifest.ErrInvalidIdentifier):
		return ExitInvalidArgs
	case errors.Is(err, downloader.ErrManifest):
		return ExitManifestError
	case errors.Is(err, downloader.ErrOutputExists):
		return ExitOutputExists
	case errors.As(err, &incomplete):
		return ExitIncomplete
	case errors.Is(err, downloader.ErrOutputMismatch):
		return ExitValidationFailed
	case errors.Is(err, downloader.ErrStorage):
		return ExitStorageError
	default:
		return ExitGeneralError
	}
}
