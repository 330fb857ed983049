package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Responder answers one statement posted to the fake ClickHouse server
type Responder func(query string) (status int, body string)

// ClickHouseServer is an httptest server speaking the ClickHouse HTTP protocol
type ClickHouseServer struct {
	*httptest.Server

	mu      sync.Mutex
	queries []string
}

// NewClickHouseServer starts a fake ClickHouse server. It is closed when the test completes.
func NewClickHouseServer(t *testing.T, respond Responder) *ClickHouseServer {
	t.Helper()

	s := &ClickHouseServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		query := string(body)

		s.mu.Lock()
		s.queries = append(s.queries, query)
		s.mu.Unlock()

		status, payload := respond(query)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	}))

	t.Cleanup(s.Close)

	return s
}

// Queries returns every statement received so far
func (s *ClickHouseServer) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.queries...)
}

// QueriesContaining returns the statements containing fragment
func (s *ClickHouseServer) QueriesContaining(fragment string) []string {
	var out []string

	for _, q := range s.Queries() {
		if strings.Contains(q, fragment) {
			out = append(out, q)
		}
	}

	return out
}

// Col is a result column of a fake FORMAT JSON response
type Col struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// JSONResult renders a FORMAT JSON response body
func JSONResult(meta []Col, rows ...map[string]any) string {
	if rows == nil {
		rows = []map[string]any{}
	}

	body, _ := json.Marshal(map[string]any{"meta": meta, "data": rows, "rows": len(rows)})

	return string(body)
}

// Empty is the response of a statement without a result set
func Empty(string) (int, string) {
	return http.StatusOK, ""
}
