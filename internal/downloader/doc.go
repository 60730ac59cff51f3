// Package downloader retrieves a file described by a manifest: it fetches
// every block into a block store, then merges them into the output file.
//
// # Usage
//
// The main entry point is the Retrieve function:
//
//	summary, err := downloader.Retrieve(ctx, downloader.Request{
//	    ID:     id,
//	    Dest:   ".",
//	    Getter: client,
//	    Options: downloader.Options{
//	        Workers:  8,
//	        Attempts: 8,
//	    },
//	    Output: os.Stderr,
//	})
//	var incomplete *downloader.IncompleteError
//	if errors.As(err, &incomplete) {
//	    // some blocks failed; the fetched ones are kept, run again to resume
//	}
//
// # Block Lifecycle
//
// [Acquirer.Acquire] drives one block to a terminal state:
//
//	stored, skip-hash      -> SkippedExisting   (no network)
//	stored, hash matches   -> SkippedHashMatch  (no network)
//	otherwise              -> fetch attempt 1..n, rotating mirrors
//	    extract succeeds   -> Verified
//	    budget exhausted   -> FailedExhausted
//
// A failed attempt never leaves a block behind, so a stored block is always
// the result of a complete extraction.
//
// # Worker Pool
//
// [Fetch] runs one task per block on a bounded pool. Tasks never cancel each
// other: every block gets its full attempt budget. The merge only happens
// when no block failed; a re-run repeats only the failed blocks.
package downloader
