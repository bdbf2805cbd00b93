// Package testutil provides helpers for deterministic list download tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ListServer serves blocklists over HTTP. Unknown paths answer 500 so that
// tests can model unreachable sources.
type ListServer struct {
	URL string

	mu     sync.Mutex
	lists  map[string]string
	hits   map[string]int
	server *httptest.Server
}

// StartListServer starts a server for lists keyed by URL path. It is closed
// when the test ends.
func StartListServer(t *testing.T, lists map[string]string) *ListServer {
	t.Helper()

	s := &ListServer{
		lists: make(map[string]string, len(lists)),
		hits:  make(map[string]int),
	}
	for path, body := range lists {
		s.lists[path] = body
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = s.server.URL
	t.Cleanup(s.server.Close)
	return s
}

func (s *ListServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.lists[r.URL.Path]
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(body))
}

// Set replaces or adds the list served at path.
func (s *ListServer) Set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[path] = body
}

// Remove makes path fail from now on.
func (s *ListServer) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, path)
}

// Hits returns how often path was requested.
func (s *ListServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Location returns the full URL of path.
func (s *ListServer) Location(path string) string {
	return s.URL + path
}
