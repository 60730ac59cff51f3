package testutils

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// BlockServer serves PNG images by path and records how often each path was
// requested. Paths can be told to fail a number of times before succeeding.
type BlockServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	hits     map[string]int
	failures map[string]int
}

// StartBlockServer starts a BlockServer that is closed when the test ends.
func StartBlockServer(t testing.TB) *BlockServer {
	t.Helper()

	s := &BlockServer{
		files:    make(map[string][]byte),
		hits:     make(map[string]int),
		failures: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Add serves data at path and returns its absolute URL.
func (s *BlockServer) Add(path string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return s.URL + path
}

// Fail makes the next n requests for path answer 503.
func (s *BlockServer) Fail(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// Hits returns the number of requests seen for path.
func (s *BlockServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests seen for all paths.
func (s *BlockServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

func (s *BlockServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	data, ok := s.files[r.URL.Path]
	fail := s.failures[r.URL.Path] > 0
	if fail {
		s.failures[r.URL.Path]--
	}
	s.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}
