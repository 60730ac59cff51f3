package downloader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/bdex/internal/blockstore"
	"github.com/ligustah/bdex/pkg/manifest"
)

// FailedBlock records a block that exhausted its attempt budget.
type FailedBlock struct {
	Index    int    // Position in the manifest
	SHA1     string // Block hash
	Attempts int    // Attempts made
	Err      error  // Combined attempt errors
}

// IncompleteError is returned when at least one block could not be
// acquired. Blocks that were acquired stay stored, so running again only
// repeats the failed ones.
//
// Use errors.As to extract this error and inspect Failed for details.
type IncompleteError struct {
	Total  int           // Number of blocks in the manifest
	Failed []FailedBlock // Failed blocks in manifest order
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d of %d blocks failed, run again to resume", len(e.Failed), e.Total)
}

// Unwrap exposes the per-block errors to errors.Is and errors.As.
func (e *IncompleteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Result summarizes a Fetch.
type Result struct {
	Outcomes []Outcome // One per manifest block, in manifest order
	Fetched  int       // Blocks downloaded in this run
	Skipped  int       // Stored blocks accepted without hashing
	Matched  int       // Stored blocks with a matching hash
	Failed   int       // Blocks that exhausted their budget
	Bytes    int64     // Payload bytes of all acquired blocks
}

// Fetch acquires every block of m into store on a pool of opts.Workers.
// It returns once every block has reached a terminal state. If any block
// failed it returns the Result together with an *IncompleteError.
func Fetch(ctx context.Context, g Getter, store *blockstore.Store, m *manifest.Manifest, opts Options) (*Result, error) {
	opts.applyDefaults()
	acq := NewAcquirer(g, store, opts)

	outcomes := make([]Outcome, len(m.Blocks))

	// A hash that appears twice names one stored object, so it is only
	// acquired once.
	first := make(map[string]int, len(m.Blocks))
	for i, b := range m.Blocks {
		key := strings.ToLower(b.SHA1)
		if _, ok := first[key]; !ok {
			first[key] = i
		}
	}

	var (
		mu     sync.Mutex
		failed bool
	)

	var eg errgroup.Group
	eg.SetLimit(opts.Workers)

	for i, b := range m.Blocks {
		if first[strings.ToLower(b.SHA1)] != i {
			continue
		}
		eg.Go(func() error {
			out := acq.Acquire(ctx, i, b)
			outcomes[i] = out
			if out.State == FailedExhausted {
				mu.Lock()
				failed = true
				mu.Unlock()
			}
			return nil
		})
	}
	eg.Wait()

	res := &Result{Outcomes: outcomes}
	var failedBlocks []FailedBlock
	for i, b := range m.Blocks {
		if j := first[strings.ToLower(b.SHA1)]; j != i {
			dup := outcomes[j]
			dup.Index, dup.Block = i, b
			outcomes[i] = dup
		}

		out := outcomes[i]
		switch out.State {
		case Verified:
			res.Fetched++
		case SkippedExisting:
			res.Skipped++
		case SkippedHashMatch:
			res.Matched++
		case FailedExhausted:
			res.Failed++
			failedBlocks = append(failedBlocks, FailedBlock{
				Index:    i,
				SHA1:     b.SHA1,
				Attempts: out.Attempts,
				Err:      out.Err,
			})
			continue
		}
		res.Bytes += out.Bytes
	}

	mu.Lock()
	defer mu.Unlock()
	if failed {
		return res, &IncompleteError{Total: len(m.Blocks), Failed: failedBlocks}
	}
	return res, nil
}
