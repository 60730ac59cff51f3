package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ligustah/bdex/internal/blockstore"
	"github.com/ligustah/bdex/internal/progress"
	"github.com/ligustah/bdex/pkg/manifest"
	"github.com/ligustah/bdex/pkg/pngpayload"
)

// Common errors.
var (
	ErrManifest       = errors.New("downloader: manifest unavailable")
	ErrOutputExists   = errors.New("downloader: output file already exists")
	ErrOutputMismatch = errors.New("downloader: merged output does not match manifest")
	ErrStorage        = errors.New("downloader: block store failure")
)

// Request describes one retrieval.
type Request struct {
	// ID identifies the manifest image.
	ID string

	// Dest is the directory that receives the output file and, for local
	// stores, the block directory.
	// Default: "."
	Dest string

	// ManifestURL is the manifest URL template; %s is replaced by ID.
	// Default: manifest.DefaultURLTemplate
	ManifestURL string

	// Getter fetches manifest and block images.
	Getter Getter

	// BlockStoreURL stores blocks in a gocloud bucket instead of {Dest}/{ID}.
	BlockStoreURL string

	// KeepBlocks keeps the block store after a successful merge.
	KeepBlocks bool

	// VerifyOutput fails the run when the merged file does not match the
	// manifest's size and SHA-1. Otherwise a mismatch is only logged.
	VerifyOutput bool

	// Options configures block acquisition. Options.Progress is set by
	// Retrieve when Output is not nil.
	Options Options

	// Output receives human-readable progress. Nil disables it.
	Output io.Writer

	// Periodic enables periodic status lines on Output.
	Periodic bool

	// UpdateInterval is the period of the status lines.
	UpdateInterval time.Duration

	// MergeBar shows a byte progress bar on Output while merging.
	MergeBar bool
}

// Summary describes a retrieval.
type Summary struct {
	Manifest *manifest.Manifest
	Output   string                 // Path of the merged file
	Fetch    *Result                // Block acquisition results
	Merge    blockstore.MergeResult // Size and SHA-1 of the merged file
	Matches  bool                   // Merged file matches the manifest's size and SHA-1
	Kept     bool                   // Block store kept after the merge
}

// Retrieve fetches the manifest of req.ID, acquires every block and merges
// them into {Dest}/{filename}.
//
// Returns an error if:
//   - The manifest cannot be fetched or decoded (wraps ErrManifest)
//   - The output file already exists or would replace the local block
//     directory (ErrOutputExists)
//   - Any block exhausts its attempts (*IncompleteError); nothing is merged
//   - The block store or merge fails (wraps ErrStorage)
//   - VerifyOutput is set and the output does not match (ErrOutputMismatch)
func Retrieve(ctx context.Context, req Request) (*Summary, error) {
	if req.Dest == "" {
		req.Dest = "."
	}
	opts := req.Options
	opts.applyDefaults()

	id, err := manifest.ParseIdentifier(req.ID)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Fetch(ctx, req.Getter, req.ManifestURL, id, pngpayload.WithStallBackoff(opts.StallBackoff))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	summary := &Summary{Manifest: m}

	if req.Output != nil {
		progress.PrintManifest(req.Output, m)
	}

	filename, err := manifest.SafeFilename(m.Filename)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	summary.Output = filepath.Join(req.Dest, filename)
	// A local block store lives at {Dest}/{ID}, so the output cannot share
	// that name.
	if req.BlockStoreURL == "" && filename == id {
		return summary, fmt.Errorf("%w: %s is the block directory", ErrOutputExists, summary.Output)
	}
	if _, err := os.Lstat(summary.Output); err == nil {
		return summary, fmt.Errorf("%w: %s", ErrOutputExists, summary.Output)
	}

	store, err := blockstore.Open(ctx, req.Dest, id, blockstore.WithBucketURL(req.BlockStoreURL))
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer store.Close()

	var rep *progress.Reporter
	if req.Output != nil {
		rep = progress.NewReporter(progress.Options{
			TotalBytes:     m.BlockBytes(),
			TotalBlocks:    len(m.Blocks),
			Workers:        opts.Workers,
			Filename:       filename,
			Output:         req.Output,
			Periodic:       req.Periodic,
			UpdateInterval: req.UpdateInterval,
		})
		opts.Progress = rep
		rep.Start()
	}

	res, err := Fetch(ctx, req.Getter, store, m, opts)
	if rep != nil {
		rep.Stop()
	}
	summary.Fetch = res
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, err
	}

	mergeOpts := []blockstore.MergeOption{}
	if rep != nil {
		mergeOpts = append(mergeOpts, blockstore.WithBlockCallback(func(i int, b manifest.Block) {
			rep.BlockMerging(i, b.SHA1)
		}))
	}
	var bar *progress.MergeBar
	if req.Output != nil && req.MergeBar {
		bar = progress.NewMergeBar(res.Bytes, req.Output)
		mergeOpts = append(mergeOpts, blockstore.WithWriterWrapper(bar.Wrap))
	}

	merged, err := blockstore.MergeFile(ctx, store, m.Blocks, summary.Output, mergeOpts...)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return summary, fmt.Errorf("%w: %s", ErrOutputExists, summary.Output)
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	summary.Merge = merged
	summary.Matches = strings.EqualFold(merged.SHA1, m.SHA1) && merged.Bytes == m.Size

	if !summary.Matches {
		if req.VerifyOutput {
			return summary, fmt.Errorf("%w: got %d bytes sha1 %s, want %d bytes sha1 %s",
				ErrOutputMismatch, merged.Bytes, merged.SHA1, m.Size, m.SHA1)
		}
		log.Warnw("merged output does not match manifest",
			"path", summary.Output,
			"size", merged.Bytes, "want_size", m.Size,
			"sha1", merged.SHA1, "want_sha1", m.SHA1)
	}

	if req.KeepBlocks {
		summary.Kept = true
		return summary, nil
	}
	if err := store.Destroy(ctx); err != nil {
		return summary, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return summary, nil
}
