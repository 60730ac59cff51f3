package blockstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"

	"gocloud.dev/blob"
)

// Writer writes one block. Close commits it; Abort discards it.
type Writer struct {
	store *Store
	hash  string

	mu     sync.Mutex
	writer *blob.Writer
	cancel context.CancelFunc
	sum    hash.Hash
	closed bool
}

// NewWriter starts writing the block named hash, replacing any stored copy
// once committed.
func (s *Store) NewWriter(ctx context.Context, hash string) (*Writer, error) {
	ctx, cancel := context.WithCancel(ctx)

	w, err := s.bucket.NewWriter(ctx, s.key(hash), &blob.WriterOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("blockstore: create writer for %s: %w", hash, err)
	}

	return &Writer{
		store:  s,
		hash:   hash,
		writer: w,
		cancel: cancel,
		sum:    sha1.New(),
	}, nil
}

// Write writes data to the block.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("blockstore: writer is closed")
	}

	n, err := w.writer.Write(p)
	w.sum.Write(p[:n])
	return n, err
}

// Checksum returns the hex SHA-1 of the bytes written so far.
func (w *Writer) Checksum() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return hex.EncodeToString(w.sum.Sum(nil))
}

// Close commits the block to the store.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()

	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("blockstore: commit %s: %w", w.hash, err)
	}
	return nil
}

// Abort cancels the write and removes whatever was stored under the block's
// key, including a copy committed before. Safe to call multiple times or
// after Close.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		// Cancelling before Close keeps the bucket from committing the object.
		w.cancel()
		w.writer.Close()
	}

	if err := w.store.Remove(context.Background(), w.hash); err != nil {
		log.Warnw("failed to remove aborted block", "sha1", w.hash, "err", err)
	}
}
