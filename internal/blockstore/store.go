package blockstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

var log = logging.Logger("bdex/blockstore")

// Common errors.
var (
	ErrMissingBlock = errors.New("blockstore: block not found")
	ErrNoStore      = errors.New("blockstore: store does not exist")
)

// Options configures how a store is opened.
type Options struct {
	// BucketURL opens a gocloud bucket instead of a local directory.
	BucketURL string

	// ReadOnly fails with ErrNoStore instead of creating a missing local
	// directory.
	ReadOnly bool
}

// Option is a functional option for opening a store.
type Option func(*Options)

// WithBucketURL stores blocks in the bucket at url under an
// "{identifier}/" prefix. An empty url keeps the local directory.
func WithBucketURL(url string) Option {
	return func(o *Options) {
		o.BucketURL = url
	}
}

// WithReadOnly makes Open fail with ErrNoStore when the local directory
// does not exist, rather than creating it.
func WithReadOnly() Option {
	return func(o *Options) {
		o.ReadOnly = true
	}
}

// Store holds the blocks of one identifier. It is safe for concurrent use
// as long as no two goroutines write the same block.
type Store struct {
	bucket *blob.Bucket
	prefix string
	dir    string // set for local directory stores
}

// Open opens the block store of id. By default this is the local directory
// {dest}/{id}.
func Open(ctx context.Context, dest, id string, options ...Option) (*Store, error) {
	var opts Options
	for _, opt := range options {
		opt(&opts)
	}

	if opts.BucketURL != "" {
		bucket, err := blob.OpenBucket(ctx, opts.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("blockstore: open bucket: %w", err)
		}
		return New(bucket, id+"/"), nil
	}

	dir := filepath.Join(dest, id)
	if opts.ReadOnly {
		if _, err := os.Stat(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNoStore, dir)
			}
			return nil, fmt.Errorf("blockstore: %w", err)
		}
	}

	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: !opts.ReadOnly,
		NoTempDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("blockstore: open %s: %w", dir, err)
	}

	s := New(bucket, "")
	s.dir = dir
	return s, nil
}

// New wraps an open bucket. Block keys are prefixed with prefix.
func New(bucket *blob.Bucket, prefix string) *Store {
	return &Store{bucket: bucket, prefix: prefix}
}

// Dir returns the local directory of the store, or "" for bucket stores.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

func (s *Store) key(hash string) string {
	return s.prefix + hash
}

// Exists reports whether the block is stored.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.key(hash))
	if err != nil {
		return false, fmt.Errorf("blockstore: stat %s: %w", hash, err)
	}
	return ok, nil
}

// Size returns the stored size of the block.
func (s *Store) Size(ctx context.Context, hash string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, s.key(hash))
	if err != nil {
		if isNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrMissingBlock, hash)
		}
		return 0, fmt.Errorf("blockstore: stat %s: %w", hash, err)
	}
	return attrs.Size, nil
}

// Checksum returns the hex SHA-1 of the stored block.
func (s *Store) Checksum(ctx context.Context, hash string) (string, error) {
	r, err := s.NewReader(ctx, hash)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("blockstore: read %s: %w", hash, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether the stored block hashes to hash. A missing block
// does not match.
func (s *Store) Matches(ctx context.Context, hash string) (bool, error) {
	sum, err := s.Checksum(ctx, hash)
	if errors.Is(err, ErrMissingBlock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(sum, hash), nil
}

// NewReader opens the stored block for reading.
func (s *Store) NewReader(ctx context.Context, hash string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, s.key(hash), nil)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingBlock, hash)
		}
		return nil, fmt.Errorf("blockstore: open %s: %w", hash, err)
	}
	return r, nil
}

// Remove deletes the block. Removing a missing block is not an error.
func (s *Store) Remove(ctx context.Context, hash string) error {
	if err := s.bucket.Delete(ctx, s.key(hash)); err != nil && !isNotExist(err) {
		return fmt.Errorf("blockstore: delete %s: %w", hash, err)
	}
	return nil
}

// Destroy removes every block of the store and, for local stores, the
// directory itself.
func (s *Store) Destroy(ctx context.Context) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	removed := 0
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("blockstore: list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && !isNotExist(err) {
			return fmt.Errorf("blockstore: delete %s: %w", obj.Key, err)
		}
		removed++
	}

	if s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			return fmt.Errorf("blockstore: remove %s: %w", s.dir, err)
		}
	}

	log.Debugw("store destroyed", "prefix", s.prefix, "dir", s.dir, "blocks", removed)
	return nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
