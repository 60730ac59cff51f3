package blockstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ligustah/bdex/pkg/manifest"
)

// MergeResult describes the merged output.
type MergeResult struct {
	Bytes int64
	SHA1  string
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// OnBlock is called before each block is copied, with its position in
	// blocks.
	OnBlock func(index int, block manifest.Block)

	// Wrap decorates the destination writer, for example to count progress.
	Wrap func(io.Writer) io.Writer
}

// MergeOption is a functional option for configuring Merge.
type MergeOption func(*MergeOptions)

// WithBlockCallback sets a function called before each block is merged.
func WithBlockCallback(fn func(index int, block manifest.Block)) MergeOption {
	return func(o *MergeOptions) {
		o.OnBlock = fn
	}
}

// WithWriterWrapper decorates the destination writer with fn.
func WithWriterWrapper(fn func(io.Writer) io.Writer) MergeOption {
	return func(o *MergeOptions) {
		o.Wrap = fn
	}
}

// Merge writes the stored blocks to w in the order given, with nothing in
// between.
//
// Returns an error if:
//   - A block is not stored (error wraps ErrMissingBlock)
//   - Reading a block or writing to w fails
//   - The context is cancelled
func Merge(ctx context.Context, s *Store, blocks []manifest.Block, w io.Writer, options ...MergeOption) (MergeResult, error) {
	var opts MergeOptions
	for _, opt := range options {
		opt(&opts)
	}

	if opts.Wrap != nil {
		w = opts.Wrap(w)
	}
	h := sha1.New()
	out := io.MultiWriter(w, h)

	var total int64
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return MergeResult{}, err
		}
		if opts.OnBlock != nil {
			opts.OnBlock(i, b)
		}

		n, err := copyBlock(ctx, s, b.SHA1, out)
		total += n
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge block %d: %w", i, err)
		}
	}

	return MergeResult{
		Bytes: total,
		SHA1:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func copyBlock(ctx context.Context, s *Store, hash string, w io.Writer) (int64, error) {
	r, err := s.NewReader(ctx, hash)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, r)
}

// MergeFile merges blocks into a new file at path. The file must not exist.
// On failure the partial file is removed.
func MergeFile(ctx context.Context, s *Store, blocks []manifest.Block, path string, options ...MergeOption) (MergeResult, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return MergeResult{}, fmt.Errorf("blockstore: create output: %w", err)
	}

	res, err := Merge(ctx, s, blocks, f, options...)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return MergeResult{}, err
	}

	log.Debugw("output merged", "path", path, "bytes", res.Bytes, "sha1", res.SHA1)
	return res, nil
}
