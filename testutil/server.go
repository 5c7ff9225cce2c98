package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
)

// QueryServer is a scripted query service for command tests. Submit answers
// come from OnSubmit by query text, approvals from OnApprove, and every
// stream replays the events given to StreamEvents.
type QueryServer struct {
	*httptest.Server

	mu       sync.Mutex
	submits  map[string]string
	approve  string
	events   []string
	requests []string
	bodies   map[string][]map[string]interface{}
}

// NewQueryServer starts a QueryServer that is closed when the test ends
func NewQueryServer(t *testing.T) *QueryServer {
	t.Helper()
	s := &QueryServer{
		submits: make(map[string]string),
		bodies:  make(map[string][]map[string]interface{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		s.record(r, nil)
		writeJSON(w, http.StatusOK, `{"status":"ok","version":"test"}`)
	})
	mux.HandleFunc("POST /api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		s.record(r, body)
		query, _ := body["query"].(string)

		s.mu.Lock()
		resp, ok := s.submits[query]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, `{"error":{"code":"not_found","message":"no scripted answer"}}`)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /api/v1/query/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		s.record(r, readBody(r))
		s.mu.Lock()
		resp := s.approve
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /api/v1/query/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		s.record(r, readBody(r))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/query/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		s.record(r, readBody(r))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/query/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		s.record(r, nil)
		s.mu.Lock()
		events := append([]string(nil), s.events...)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", e)
		}
		_, _ = io.WriteString(w, "event: done\ndata: [DONE]\n\n")
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// OnSubmit scripts the JSON answer for a query text
func (s *QueryServer) OnSubmit(query, responseJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits[query] = responseJSON
}

// OnApprove scripts the JSON answer for every approval
func (s *QueryServer) OnApprove(responseJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approve = responseJSON
}

// StreamEvents sets the payloads replayed on every stream
func (s *QueryServer) StreamEvents(events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// Requests returns "METHOD PATH" for every request received so far
func (s *QueryServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Bodies returns the decoded JSON bodies received for a "METHOD PATTERN" key,
// e.g. "POST /api/v1/query" or "POST approve"
func (s *QueryServer) Bodies(key string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.bodies[key]...)
}

func (s *QueryServer) record(r *http.Request, body map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	if body == nil {
		return
	}
	key := r.Method + " " + r.URL.Path
	if r.PathValue("id") != "" {
		key = r.Method + " " + path.Base(r.URL.Path)
	}
	s.bodies[key] = append(s.bodies[key], body)
}

func readBody(r *http.Request) map[string]interface{} {
	body := make(map[string]interface{})
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
