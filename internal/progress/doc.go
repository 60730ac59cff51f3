// Package progress provides progress reporting for block retrieval.
//
// This package writes one line per block event to stderr, an optional
// periodic status with completion percentage, transfer speed, and ETA, and a
// byte progress bar for the merge phase.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalBytes:  m.BlockBytes(),
//	    TotalBlocks: len(m.Blocks),
//	    Filename:    m.Filename,
//	    Periodic:    true,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.BlockStarted(i, hash, attempt, budget)
//	reporter.BlockCompleted(i, hash, n)
//
// # Output Format
//
//	[bdex] Retrieving: movie.mp4
//	[bdex] Total size: 1.2 GiB | Blocks: 150 | Workers: 8
//	[3/150] Match 2fd4e1c67a2d28fced849ee1bb76e7391b93eb12...
//	[4/150] Downloading de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3...
//	[4/150] Error de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3: http: server error: 502 Bad Gateway
//	[4/150] Downloading de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3 (attempt 2/8)...
//	[bdex] Progress: 45.2% | 560 MiB / 1.2 GiB | Speed: 12 MiB/s | ETA: 52s
//	[bdex] Blocks: 68 completed | 8 in-progress | 0 failed | 74 pending
package progress
