package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lucro/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	return NewMiddleware(func(r *http.Request) string { return "10.0.0.7" }, log.New(log.Config{Output: buf}))
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/integrations/transactions/", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q, want req_ prefix", seen)
	}
	if got := rr.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
	if !strings.Contains(buf.String(), "status_code=201") {
		t.Errorf("completion log missing status: %s", buf.String())
	}
}

func TestMiddleware_ReusesInboundRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reused  bool
	}{
		{name: "plain id", inbound: "abc-123", reused: true},
		{name: "uuid", inbound: "0b9e7a52-8c1e-4f8e-9d1f-2f4b9c0e6a11", reused: true},
		{name: "header injection", inbound: "abc\nforged=1", reused: false},
		{name: "too long", inbound: strings.Repeat("a", 65), reused: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTestMiddleware(&buf).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(RequestIDHeader, tt.inbound)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if (got == tt.inbound) != tt.reused {
				t.Errorf("response id = %q, reused want %v", got, tt.reused)
			}
		})
	}
}

func TestMiddleware_LogLevelsAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	codes := []int{http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError}
	for _, code := range codes {
		code := code
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Error("expected a WARN line for the 400")
	}
	if !strings.Contains(out, "level=ERROR") {
		t.Error("expected an ERROR line for the 500")
	}

	metrics := m.GetMetrics()
	if metrics.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", metrics.TotalRequests)
	}
	if metrics.ServerErrors != 1 {
		t.Errorf("ServerErrors = %d, want 1", metrics.ServerErrors)
	}
	if metrics.AverageResponseTime() < 0 {
		t.Error("average response time must not be negative")
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}
	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusTeapot)

	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rw.statusCode)
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}
