package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/ratelimit"
)

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, key, want string) {
	t.Helper()
	if got := rec.Header().Get(key); got != want {
		t.Errorf("header %s = %q, want %q", key, got, want)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if seen == "" {
		t.Fatal("request ID not set in context")
	}
	checkHeader(t, rec, RequestIDHeader, seen)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec2.Header().Get(RequestIDHeader) == seen {
		t.Error("request IDs are not unique")
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "principal", "user_1")
		AddLogField(r.Context(), "ignored", "")
		AddError(r.Context(), errors.New("upstream failed"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}

	var completed map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &completed); err != nil {
		t.Fatalf("decode log line: %v", err)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"msg", "request completed"},
		{"status", float64(http.StatusTeapot)},
		{"path", "/api/chat"},
		{"principal", "user_1"},
		{"error", "upstream failed"},
		{"request_id", rec.Header().Get(RequestIDHeader)},
	}
	for _, tt := range tests {
		if completed[tt.key] != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, completed[tt.key], tt.want)
		}
	}
	if _, ok := completed["ignored"]; ok {
		t.Error("empty field was logged")
	}
}

func TestLoggingMiddleware_ConcurrentFields(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				AddLogField(r.Context(), "tool", "webSearch")
			}()
		}
		wg.Wait()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))
}

func TestLoggingMiddleware_PreservesFlusher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer does not implement http.Flusher")
		}
		w.Write([]byte("data: x\n\n"))
		w.(http.Flusher).Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			w.WriteHeader(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}

func TestSetRateLimitHeaders(t *testing.T) {
	tests := []struct {
		name          string
		res           ratelimit.Result
		wantLimit     string
		wantRemaining string
		wantRetry     string
	}{
		{
			name:          "admitted",
			res:           ratelimit.Result{Allowed: true, Limit: 20, Remaining: 19},
			wantLimit:     "20",
			wantRemaining: "19",
		},
		{
			name:          "admitted last slot",
			res:           ratelimit.Result{Allowed: true, Limit: 20, Remaining: 0},
			wantLimit:     "20",
			wantRemaining: "0",
		},
		{
			name:          "rejected rounds retry up",
			res:           ratelimit.Result{Allowed: false, Limit: 20, RetryAfter: 1500 * time.Millisecond},
			wantLimit:     "20",
			wantRemaining: "0",
			wantRetry:     "2",
		},
		{
			name:      "rejected minimum one second",
			res:       ratelimit.Result{Allowed: false, RetryAfter: time.Millisecond},
			wantRetry: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			SetRateLimitHeaders(rec.Header(), tt.res)
			checkHeader(t, rec, HeaderLimitRequests, tt.wantLimit)
			checkHeader(t, rec, HeaderRemainingRequests, tt.wantRemaining)
			checkHeader(t, rec, HeaderRetryAfter, tt.wantRetry)
		})
	}
}
