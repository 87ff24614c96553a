package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("200")
	m.ObserveRequest("200")
	m.ObserveRequest("429")
	m.ObserveRejection(StageRateLimit)
	m.ObserveToolCall("webSearch", "ok")
	m.ObserveClientDisconnect()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"requests 200", testutil.ToFloat64(m.chatRequests.WithLabelValues("200")), 2},
		{"requests 429", testutil.ToFloat64(m.chatRequests.WithLabelValues("429")), 1},
		{"rate limit rejections", testutil.ToFloat64(m.rejections.WithLabelValues(StageRateLimit)), 1},
		{"tool calls", testutil.ToFloat64(m.toolCalls.WithLabelValues("webSearch", "ok")), 1},
		{"client disconnects", testutil.ToFloat64(m.clientDisconnects), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMetrics_ActiveStreams(t *testing.T) {
	m := NewMetrics()

	done1 := m.StreamStarted()
	done2 := m.StreamStarted()
	if got := testutil.ToFloat64(m.activeStreams); got != 2 {
		t.Errorf("active streams = %v, want 2", got)
	}

	done1()
	done2()
	if got := testutil.ToFloat64(m.activeStreams); got != 0 {
		t.Errorf("active streams after done = %v, want 0", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("nil Metrics panicked: %v", r)
		}
	}()

	var m *Metrics
	m.ObserveRequest("200")
	m.ObserveRejection(StageAuth)
	m.ObserveTimeToFirstToken(0.1)
	m.ObserveStream("ok", 1)
	m.StreamStarted()()
	m.ObserveToolCall("x", "ok")
	m.ObserveClientDisconnect()
	m.ObservePromptTokens(10)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("200")
	m.ObservePromptTokens(512)
	m.RegisterGaugeFunc("socratic_ratelimit_keys", "Tracked rate limit keys", func() float64 { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	out := string(body)
	for _, want := range []string{
		`socratic_chat_requests_total{status="200"} 1`,
		"socratic_prompt_tokens_estimate_bucket",
		"socratic_ratelimit_keys 7",
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}
