package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"

	"github.com/ligustah/bdex/internal/blockstore"
	"github.com/ligustah/bdex/internal/progress"
	"github.com/ligustah/bdex/pkg/manifest"
	"github.com/ligustah/bdex/pkg/mirror"
	"github.com/ligustah/bdex/pkg/pngpayload"
)

var log = logging.Logger("bdex/downloader")

// ErrChecksumMismatch is returned for a fetched block whose content does not
// hash to its declared SHA-1. Only checked with Options.VerifyBlocks.
var ErrChecksumMismatch = errors.New("downloader: block checksum mismatch")

// Getter fetches the body at a URL. internal/http.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// PolicyFunc returns the URL to try for the given zero-based attempt of a
// block whose canonical URL is base.
type PolicyFunc func(base string, attempt int) string

// State is the terminal state of a block.
type State int

const (
	// Verified means the block was downloaded and extracted in this run.
	Verified State = iota + 1
	// SkippedExisting means the block was already stored and hashing was skipped.
	SkippedExisting
	// SkippedHashMatch means the block was already stored with the right hash.
	SkippedHashMatch
	// FailedExhausted means every attempt failed.
	FailedExhausted
)

func (s State) String() string {
	switch s {
	case Verified:
		return "verified"
	case SkippedExisting:
		return "skipped"
	case SkippedHashMatch:
		return "matched"
	case FailedExhausted:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome records how a block reached its terminal state.
type Outcome struct {
	Index    int
	Block    manifest.Block
	State    State
	Attempts int   // download attempts made; 0 for skipped blocks
	Bytes    int64 // payload bytes stored
	Err      error // combined attempt errors, set for FailedExhausted
}

// Options configures block acquisition.
type Options struct {
	// Workers is the number of blocks acquired in parallel.
	// Default: 8
	Workers int

	// Attempts is the download budget per block.
	// Default: 8
	Attempts int

	// SkipHash accepts any stored block without hashing it.
	SkipHash bool

	// VerifyBlocks checks the SHA-1 of every downloaded block and treats a
	// mismatch as a failed attempt.
	VerifyBlocks bool

	// StallBackoff is the pause before retrying a stalled read.
	// Default: 1s
	StallBackoff time.Duration

	// Policy picks the URL for each attempt.
	// Default: mirror.Candidate
	Policy PolicyFunc

	// Progress is an optional progress reporter.
	Progress *progress.Reporter
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.Attempts <= 0 {
		o.Attempts = 8
	}
	if o.StallBackoff <= 0 {
		o.StallBackoff = pngpayload.DefaultStallBackoff
	}
	if o.Policy == nil {
		o.Policy = mirror.Candidate
	}
}

// Acquirer brings blocks into a store. It is safe for concurrent use on
// distinct blocks.
type Acquirer struct {
	getter Getter
	store  *blockstore.Store
	opts   Options
}

// NewAcquirer creates an Acquirer that downloads with g into store.
func NewAcquirer(g Getter, store *blockstore.Store, opts Options) *Acquirer {
	opts.applyDefaults()
	return &Acquirer{getter: g, store: store, opts: opts}
}

// Acquire makes sure block b, at position index of the manifest, is stored.
// It always returns a terminal outcome; failures are reported in the
// outcome, not as an error.
func (a *Acquirer) Acquire(ctx context.Context, index int, b manifest.Block) Outcome {
	out := Outcome{Index: index, Block: b}
	rep := a.opts.Progress

	if state, size, ok := a.checkExisting(ctx, b); ok {
		out.State = state
		out.Bytes = size
		if rep != nil {
			if state == SkippedExisting {
				rep.BlockSkipped(index, b.SHA1, size)
			} else {
				rep.BlockMatched(index, b.SHA1, size)
			}
		}
		return out
	}

	var errs error
	for attempt := 0; attempt < a.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		url := a.opts.Policy(b.URL, attempt)
		out.Attempts++
		if rep != nil {
			rep.BlockStarted(index, b.SHA1, attempt, a.opts.Attempts)
		}

		n, err := a.fetch(ctx, url, b)
		if err == nil {
			out.State = Verified
			out.Bytes = n
			if rep != nil {
				rep.BlockCompleted(index, b.SHA1, n)
			}
			log.Debugw("block stored", "index", index, "sha1", b.SHA1, "bytes", n, "attempts", out.Attempts)
			return out
		}

		log.Debugw("block attempt failed", "index", index, "sha1", b.SHA1, "url", url, "attempt", attempt+1, "err", err)
		errs = multierr.Append(errs, fmt.Errorf("attempt %d (%s): %w", attempt+1, url, err))
		if rep != nil && attempt+1 < a.opts.Attempts && ctx.Err() == nil {
			rep.BlockRetry(index, b.SHA1, err)
		}
	}

	out.State = FailedExhausted
	out.Err = errs
	if rep != nil {
		rep.BlockFailed(index, b.SHA1, out.Attempts, lastError(errs))
	}
	log.Warnw("block failed", "index", index, "sha1", b.SHA1, "attempts", out.Attempts)
	return out
}

// checkExisting reports whether the stored copy of b can be used as is.
func (a *Acquirer) checkExisting(ctx context.Context, b manifest.Block) (State, int64, bool) {
	exists, err := a.store.Exists(ctx, b.SHA1)
	if err != nil {
		log.Warnw("cannot check stored block, fetching it", "sha1", b.SHA1, "err", err)
		return 0, 0, false
	}
	if !exists {
		return 0, 0, false
	}

	size, err := a.store.Size(ctx, b.SHA1)
	if err != nil {
		log.Debugw("cannot stat stored block", "sha1", b.SHA1, "err", err)
	}

	if a.opts.SkipHash {
		return SkippedExisting, size, true
	}

	match, err := a.store.Matches(ctx, b.SHA1)
	if err != nil {
		log.Warnw("cannot hash stored block, fetching it", "sha1", b.SHA1, "err", err)
		return 0, 0, false
	}
	if !match {
		log.Debugw("stored block does not match, fetching it", "sha1", b.SHA1)
		return 0, 0, false
	}
	return SkippedHashMatch, size, true
}

// fetch downloads url and stores its payload as block b. On any failure the
// stored block is removed.
func (a *Acquirer) fetch(ctx context.Context, url string, b manifest.Block) (int64, error) {
	body, err := a.getter.Get(ctx, url)
	if err != nil {
		if rerr := a.store.Remove(context.Background(), b.SHA1); rerr != nil {
			log.Warnw("failed to remove block", "sha1", b.SHA1, "err", rerr)
		}
		return 0, err
	}
	defer body.Close()

	w, err := a.store.NewWriter(ctx, b.SHA1)
	if err != nil {
		return 0, err
	}

	n, err := pngpayload.Extract(ctx, body, w, pngpayload.WithStallBackoff(a.opts.StallBackoff))
	if err != nil {
		w.Abort()
		return n, err
	}

	if a.opts.VerifyBlocks {
		if sum := w.Checksum(); !strings.EqualFold(sum, b.SHA1) {
			w.Abort()
			return n, fmt.Errorf("%w: got %s", ErrChecksumMismatch, sum)
		}
	}

	if err := w.Close(); err != nil {
		w.Abort()
		return n, err
	}
	return n, nil
}

func lastError(err error) error {
	errs := multierr.Errors(err)
	if len(errs) == 0 {
		return err
	}
	return errs[len(errs)-1]
}
