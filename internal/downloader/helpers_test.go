package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/bdex/internal/blockstore"
	bdexhttp "github.com/ligustah/bdex/internal/http"
	"github.com/ligustah/bdex/internal/testutils"
	"github.com/ligustah/bdex/pkg/manifest"
)

const manifestID = "a1b2c3d4"

// identity keeps the canonical URL for every attempt.
func identity(base string, _ int) string { return base }

// fixture is a published file: its manifest image and block images are
// served by a BlockServer.
type fixture struct {
	srv      *testutils.BlockServer
	manifest *manifest.Manifest
	payloads [][]byte
	paths    []string
	content  []byte
}

func blockPath(hash string) string {
	return "/bfs/album/" + hash + ".png"
}

// publish serves payloads as blocks of filename and a manifest describing
// them under manifestID.
func publish(t *testing.T, filename string, payloads ...[]byte) *fixture {
	t.Helper()
	srv := testutils.StartBlockServer(t)

	f := &fixture{srv: srv, payloads: payloads}
	m := &manifest.Manifest{CreatedAt: 1612345678, Filename: filename}
	for _, p := range payloads {
		hash := testutils.SHA1(p)
		path := blockPath(hash)
		url := srv.Add(path, testutils.EncodeGray(t, p, 64))
		m.Blocks = append(m.Blocks, manifest.Block{URL: url, Size: int64(len(p)), SHA1: hash})
		f.paths = append(f.paths, path)
		f.content = append(f.content, p...)
	}
	m.Size = int64(len(f.content))
	m.SHA1 = testutils.SHA1(f.content)

	f.manifest = m
	f.republish(t)
	return f
}

// republish serves the current manifest again, after a test changed it.
func (f *fixture) republish(t *testing.T) {
	t.Helper()
	f.srv.Add(blockPath(manifestID), testutils.EncodeJSON(t, f.manifest, 64))
}

func (f *fixture) manifestURL() string {
	return f.srv.URL + "/bfs/album/%s.png"
}

func (f *fixture) blockHits() int {
	total := 0
	for _, p := range f.paths {
		total += f.srv.Hits(p)
	}
	return total
}

func newClient() *bdexhttp.Client {
	return bdexhttp.NewClient(bdexhttp.DefaultOptions())
}

func newMemStore(t *testing.T) *blockstore.Store {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	s := blockstore.New(bucket, manifestID+"/")
	t.Cleanup(func() { s.Close() })
	return s
}

func storeBlock(t *testing.T, s *blockstore.Store, hash string, data []byte) {
	t.Helper()
	w, err := s.NewWriter(context.Background(), hash)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readBlock(t *testing.T, s *blockstore.Store, hash string) []byte {
	t.Helper()
	r, err := s.NewReader(context.Background(), hash)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return data
}

func payload(i int) []byte {
	return testutils.GenerateTestData(3000+i*517, byte(i))
}

func payloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = payload(i)
	}
	return out
}

// getterFunc adapts a function to Getter.
type getterFunc func(ctx context.Context, url string) (io.ReadCloser, error)

func (f getterFunc) Get(ctx context.Context, url string) (io.ReadCloser, error) { return f(ctx, url) }

// staticGetter serves fixed bodies by URL.
type staticGetter map[string][]byte

func (g staticGetter) Get(_ context.Context, url string) (io.ReadCloser, error) {
	data, ok := g[url]
	if !ok {
		return nil, fmt.Errorf("no body for %s: %w", url, bdexhttp.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
