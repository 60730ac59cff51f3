package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	bdexhttp "github.com/ligustah/bdex/internal/http"
)

func request(f *fixture, dest string) Request {
	return Request{
		ID:          manifestID,
		Dest:        dest,
		ManifestURL: f.manifestURL(),
		Getter:      newClient(),
		Options:     Options{Policy: identity, Workers: 2},
	}
}

func assertNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s not to exist, got %v", path, err)
	}
}

func TestRetrieve(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)
	dest := t.TempDir()

	summary, err := Retrieve(context.Background(), request(f, dest))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	out := filepath.Join(dest, "movie.mp4")
	if summary.Output != out {
		t.Errorf("expected output %s, got %s", out, summary.Output)
	}
	if !summary.Matches {
		t.Error("expected output to match manifest")
	}
	if summary.Kept {
		t.Error("expected block store to be removed")
	}
	if summary.Fetch.Fetched != 2 {
		t.Errorf("expected 2 fetched blocks, got %d", summary.Fetch.Fetched)
	}
	if summary.Merge.Bytes != int64(len(f.content)) {
		t.Errorf("expected %d merged bytes, got %d", len(f.content), summary.Merge.Bytes)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(f.content, got) {
		t.Error("merged output differs from original content")
	}

	assertNotExist(t, filepath.Join(dest, manifestID))
}

func TestRetrieveEmptyFile(t *testing.T) {
	f := publish(t, "empty.bin")
	dest := t.TempDir()

	summary, err := Retrieve(context.Background(), request(f, dest))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !summary.Matches {
		t.Errorf("expected empty output to match manifest, got sha1 %s", summary.Merge.SHA1)
	}

	info, err := os.Stat(filepath.Join(dest, "empty.bin"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected zero-byte output, got %d bytes", info.Size())
	}
	assertNotExist(t, filepath.Join(dest, manifestID))
}

func TestRetrieveKeepBlocks(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)
	dest := t.TempDir()

	req := request(f, dest)
	req.KeepBlocks = true
	summary, err := Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !summary.Kept {
		t.Error("expected block store to be kept")
	}

	entries, err := os.ReadDir(filepath.Join(dest, manifestID))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{f.manifest.Blocks[0].SHA1, f.manifest.Blocks[1].SHA1}
	sort.Strings(names)
	sort.Strings(want)
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected stored blocks %v, got %v", want, names)
	}
}

func TestRetrieveOutputExists(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)
	dest := t.TempDir()
	out := filepath.Join(dest, "movie.mp4")
	if err := os.WriteFile(out, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Retrieve(context.Background(), request(f, dest))
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("expected ErrOutputExists, got %v", err)
	}
	if hits := f.blockHits(); hits != 0 {
		t.Errorf("expected no block requests, got %d", hits)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "mine" {
		t.Errorf("existing output was modified: %q", got)
	}
}

func TestRetrieveFilenameIsBlockDirectory(t *testing.T) {
	f := publish(t, manifestID, payloads(2)...)
	dest := t.TempDir()

	_, err := Retrieve(context.Background(), request(f, dest))
	if !errors.Is(err, ErrOutputExists) {
		t.Fatalf("expected ErrOutputExists, got %v", err)
	}
	if hits := f.blockHits(); hits != 0 {
		t.Errorf("expected no block requests, got %d", hits)
	}
	assertNotExist(t, filepath.Join(dest, manifestID))
}

func TestRetrieveIncompleteThenResume(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(3)...)
	f.srv.Fail(f.paths[1], 100)
	dest := t.TempDir()

	req := request(f, dest)
	req.Options.Attempts = 2
	_, err := Retrieve(context.Background(), req)

	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if incomplete.Failed[0].Index != 1 {
		t.Errorf("expected block 1 to fail, got %d", incomplete.Failed[0].Index)
	}

	// No output after an incomplete run, acquired blocks stay stored.
	assertNotExist(t, filepath.Join(dest, "movie.mp4"))
	if _, err := os.Stat(filepath.Join(dest, manifestID, f.manifest.Blocks[0].SHA1)); err != nil {
		t.Errorf("expected block 0 to be stored: %v", err)
	}

	f.srv.Fail(f.paths[1], 0)
	before := map[string]int{}
	for _, p := range f.paths {
		before[p] = f.srv.Hits(p)
	}

	summary, err := Retrieve(context.Background(), request(f, dest))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if summary.Fetch.Fetched != 1 || summary.Fetch.Matched != 2 {
		t.Errorf("expected 1 fetched and 2 matched, got %d and %d", summary.Fetch.Fetched, summary.Fetch.Matched)
	}
	for i, want := range []int{before[f.paths[0]], before[f.paths[1]] + 1, before[f.paths[2]]} {
		if got := f.srv.Hits(f.paths[i]); got != want {
			t.Errorf("block %d: expected %d requests, got %d", i, want, got)
		}
	}

	got, err := os.ReadFile(filepath.Join(dest, "movie.mp4"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(f.content, got) {
		t.Error("merged output differs from original content")
	}
}

func TestRetrieveOutputMismatch(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)
	f.manifest.SHA1 = strings.Repeat("0", 40)
	f.republish(t)

	t.Run("warn", func(t *testing.T) {
		dest := t.TempDir()
		summary, err := Retrieve(context.Background(), request(f, dest))
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if summary.Matches {
			t.Error("expected mismatch")
		}
		assertNotExist(t, filepath.Join(dest, manifestID))
	})

	t.Run("verify", func(t *testing.T) {
		dest := t.TempDir()
		req := request(f, dest)
		req.VerifyOutput = true
		summary, err := Retrieve(context.Background(), req)
		if !errors.Is(err, ErrOutputMismatch) {
			t.Fatalf("expected ErrOutputMismatch, got %v", err)
		}
		if summary.Matches {
			t.Error("expected mismatch")
		}

		// The output and blocks stay for inspection.
		if _, err := os.Stat(summary.Output); err != nil {
			t.Errorf("expected output to stay: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dest, manifestID)); err != nil {
			t.Errorf("expected blocks to stay: %v", err)
		}
	})
}

func TestRetrieveManifestNotFound(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(1)...)

	req := request(f, t.TempDir())
	req.ID = "deadbeef"
	_, err := Retrieve(context.Background(), req)
	if !errors.Is(err, ErrManifest) {
		t.Fatalf("expected ErrManifest, got %v", err)
	}
	if !errors.Is(err, bdexhttp.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRetrieveInvalidIdentifier(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(1)...)

	req := request(f, t.TempDir())
	req.ID = "../etc"
	if _, err := Retrieve(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if hits := f.srv.TotalHits(); hits != 0 {
		t.Errorf("expected no requests, got %d", hits)
	}
}

func TestRetrieveSanitizesFilename(t *testing.T) {
	f := publish(t, "../../escape.bin", payloads(1)...)
	dest := t.TempDir()

	summary, err := Retrieve(context.Background(), request(f, dest))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if want := filepath.Join(dest, "escape.bin"); summary.Output != want {
		t.Errorf("expected output %s, got %s", want, summary.Output)
	}
}

func TestRetrieveProgressOutput(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)

	var buf bytes.Buffer
	req := request(f, t.TempDir())
	req.Options.Workers = 1
	req.Output = &buf
	if _, err := Retrieve(context.Background(), req); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	s := buf.String()
	for _, want := range []string{
		"File: movie.mp4",
		"[bdex] Retrieving: movie.mp4",
		"[1/2] Downloading " + f.manifest.Blocks[0].SHA1 + "...",
		"[2/2] Merging " + f.manifest.Blocks[1].SHA1 + "...",
		"[bdex] Blocks: 2/2 ready",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, s)
		}
	}
}

func TestRetrieveCancelled(t *testing.T) {
	f := publish(t, "movie.mp4", payloads(2)...)
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := request(f, dest)
	req.Getter = cancelAfterManifest{g: newClient(), cancel: cancel}

	_, err := Retrieve(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertNotExist(t, filepath.Join(dest, "movie.mp4"))
}

// cancelAfterManifest cancels the run once the manifest has been fetched.
type cancelAfterManifest struct {
	g      Getter
	cancel context.CancelFunc
}

func (c cancelAfterManifest) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	if strings.Contains(url, manifestID) {
		defer c.cancel()
	}
	return c.g.Get(ctx, url)
}
