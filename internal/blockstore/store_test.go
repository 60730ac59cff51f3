package blockstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/bdex/internal/testutils"
	"github.com/ligustah/bdex/pkg/manifest"
)

func newMemStore(t *testing.T) *Store {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	s := New(bucket, "abc123/")
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s *Store, data []byte) string {
	t.Helper()
	hash := testutils.SHA1(data)
	putAs(t, s, hash, data)
	return hash
}

func putAs(t *testing.T, s *Store, hash string, data []byte) {
	t.Helper()
	w, err := s.NewWriter(context.Background(), hash)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWriterCommit(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	data := testutils.GenerateTestData(1000, 9)
	hash := testutils.SHA1(data)

	w, err := s.NewWriter(ctx, hash)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(data[:400])
	w.Write(data[400:])

	if w.Checksum() != hash {
		t.Errorf("expected checksum %s, got %s", hash, w.Checksum())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, err := s.Exists(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("expected block to exist, got %v, %v", ok, err)
	}
	match, err := s.Matches(ctx, hash)
	if err != nil || !match {
		t.Errorf("expected block to match, got %v, %v", match, err)
	}
	size, err := s.Size(ctx, hash)
	if err != nil || size != 1000 {
		t.Errorf("expected size 1000, got %d, %v", size, err)
	}

	// Blocks live under the store prefix.
	if ok, _ := s.bucket.Exists(ctx, "abc123/"+hash); !ok {
		t.Error("expected block under prefix abc123/")
	}

	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}

func TestWriterAbort(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	hash := testutils.SHA1([]byte("partial"))

	w, err := s.NewWriter(ctx, hash)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write([]byte("part"))
	w.Abort()
	w.Abort() // idempotent

	if ok, _ := s.Exists(ctx, hash); ok {
		t.Error("expected aborted block to be absent")
	}
}

func TestWriterAbortRemovesStaleCopy(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	hash := testutils.SHA1([]byte("good"))
	putAs(t, s, hash, []byte("stale"))

	w, err := s.NewWriter(ctx, hash)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write([]byte("go"))
	w.Abort()

	if ok, _ := s.Exists(ctx, hash); ok {
		t.Error("expected stale block to be removed")
	}
}

func TestMatchesDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	hash := testutils.SHA1([]byte("expected"))
	putAs(t, s, hash, []byte("corrupt"))

	match, err := s.Matches(ctx, hash)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if match {
		t.Error("expected corrupt block not to match")
	}

	match, err = s.Matches(ctx, testutils.SHA1([]byte("absent")))
	if err != nil || match {
		t.Errorf("expected missing block not to match, got %v, %v", match, err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	hash := put(t, s, []byte("data"))

	if err := s.Remove(ctx, hash); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, hash); err != nil {
		t.Errorf("Remove of missing block: %v", err)
	}
	if _, err := s.NewReader(ctx, hash); !errors.Is(err, ErrMissingBlock) {
		t.Errorf("expected ErrMissingBlock, got %v", err)
	}
}

func TestDestroyOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	a := New(bucket, "a/")
	b := New(bucket, "b/")
	put(t, a, []byte("one"))
	put(t, a, []byte("two"))
	keep := put(t, b, []byte("three"))

	if err := a.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	iter := bucket.List(&blob.ListOptions{Prefix: "a/"})
	if obj, err := iter.Next(ctx); err == nil {
		t.Errorf("expected no objects under a/, found %s", obj.Key)
	}
	if ok, _ := b.Exists(ctx, keep); !ok {
		t.Error("expected block of other store to survive")
	}
}

func TestOpenLocalDirectory(t *testing.T) {
	ctx := context.Background()
	dest := t.TempDir()

	s, err := Open(ctx, dest, "abc123")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	hash := put(t, s, []byte("block payload"))

	dir := filepath.Join(dest, "abc123")
	if s.Dir() != dir {
		t.Errorf("expected dir %s, got %s", dir, s.Dir())
	}

	data, err := os.ReadFile(filepath.Join(dir, hash))
	if err != nil {
		t.Fatalf("read block file: %v", err)
	}
	if string(data) != "block payload" {
		t.Errorf("unexpected block content %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != hash {
			t.Errorf("unexpected file in block directory: %s", e.Name())
		}
	}

	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected block directory to be removed, got %v", err)
	}
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), "nothing", WithReadOnly())
	if !errors.Is(err, ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
}

func TestOpenBucketURL(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "", "abc123", WithBucketURL("mem://"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Dir() != "" {
		t.Errorf("expected no local dir, got %s", s.Dir())
	}
	hash := put(t, s, []byte("x"))
	if ok, _ := s.bucket.Exists(ctx, "abc123/"+hash); !ok {
		t.Error("expected block under identifier prefix")
	}
}

func TestMergeOrder(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	// Written out of order on purpose.
	hc := put(t, s, []byte("CC"))
	ha := put(t, s, []byte("AA"))
	hb := put(t, s, []byte("BB"))

	blocks := []manifest.Block{{SHA1: ha}, {SHA1: hb}, {SHA1: hc}}

	var seen []int
	var buf bytes.Buffer
	res, err := Merge(ctx, s, blocks, &buf, WithBlockCallback(func(i int, b manifest.Block) {
		seen = append(seen, i)
	}))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if buf.String() != "AABBCC" {
		t.Errorf("expected AABBCC, got %q", buf.String())
	}
	if res.Bytes != 6 {
		t.Errorf("expected 6 bytes, got %d", res.Bytes)
	}
	if res.SHA1 != testutils.SHA1([]byte("AABBCC")) {
		t.Errorf("unexpected sha1 %s", res.SHA1)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Errorf("unexpected callback order %v", seen)
	}
}

func TestMergeRepeatedBlock(t *testing.T) {
	s := newMemStore(t)
	ha := put(t, s, []byte("AA"))
	hb := put(t, s, []byte("BB"))

	var buf bytes.Buffer
	_, err := Merge(context.Background(), s, []manifest.Block{{SHA1: ha}, {SHA1: hb}, {SHA1: ha}}, &buf)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if buf.String() != "AABBAA" {
		t.Errorf("expected AABBAA, got %q", buf.String())
	}
}

func TestMergeMissingBlock(t *testing.T) {
	s := newMemStore(t)
	ha := put(t, s, []byte("AA"))

	var buf bytes.Buffer
	_, err := Merge(context.Background(), s, []manifest.Block{{SHA1: ha}, {SHA1: testutils.SHA1([]byte("BB"))}}, &buf)
	if !errors.Is(err, ErrMissingBlock) {
		t.Errorf("expected ErrMissingBlock, got %v", err)
	}
}

func TestMergeWriterWrapper(t *testing.T) {
	s := newMemStore(t)
	ha := put(t, s, []byte("AA"))

	var counted int
	var buf bytes.Buffer
	_, err := Merge(context.Background(), s, []manifest.Block{{SHA1: ha}}, &buf, WithWriterWrapper(func(w io.Writer) io.Writer {
		return writerFunc(func(p []byte) (int, error) {
			counted += len(p)
			return w.Write(p)
		})
	}))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if counted != 2 || buf.String() != "AA" {
		t.Errorf("expected wrapper to see 2 bytes, saw %d (%q)", counted, buf.String())
	}
}

func TestMergeFile(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	ha := put(t, s, []byte("AA"))
	hb := put(t, s, []byte("BB"))
	path := filepath.Join(t.TempDir(), "movie.mp4")

	res, err := MergeFile(ctx, s, []manifest.Block{{SHA1: ha}, {SHA1: hb}}, path)
	if err != nil {
		t.Fatalf("MergeFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "AABB" || res.Bytes != 4 {
		t.Errorf("unexpected output %q (%d bytes)", data, res.Bytes)
	}

	// Never overwrites.
	_, err = MergeFile(ctx, s, []manifest.Block{{SHA1: ha}}, path)
	if !errors.Is(err, os.ErrExist) {
		t.Errorf("expected os.ErrExist, got %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "AABB" {
		t.Errorf("existing output was modified: %q", data)
	}
}

func TestMergeFileRemovesPartialOutput(t *testing.T) {
	s := newMemStore(t)
	ha := put(t, s, []byte("AA"))
	path := filepath.Join(t.TempDir(), "out.bin")

	_, err := MergeFile(context.Background(), s, []manifest.Block{{SHA1: ha}, {SHA1: strings.Repeat("0", 40)}}, path)
	if !errors.Is(err, ErrMissingBlock) {
		t.Fatalf("expected ErrMissingBlock, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected partial output to be removed, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	good := put(t, s, []byte("good block"))
	bad := testutils.SHA1([]byte("expected"))
	putAs(t, s, bad, []byte("tampered"))
	missing := testutils.SHA1([]byte("missing"))

	result, err := Verify(ctx, s, []manifest.Block{{SHA1: good}, {SHA1: bad}, {SHA1: missing}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if result.Valid {
		t.Error("expected invalid result")
	}
	if result.BlockCount != 3 || result.Present != 1 || result.Missing != 1 || result.Mismatched != 1 {
		t.Errorf("unexpected counts: %+v", result)
	}
	if result.Bytes != int64(len("good block")) {
		t.Errorf("expected %d bytes, got %d", len("good block"), result.Bytes)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", result.Errors)
	}

	result, err = Verify(ctx, s, []manifest.Block{{SHA1: good}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid result, got %v", result.Errors)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
