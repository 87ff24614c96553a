package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/storage/memory"
	"github.com/tjfontaine/socratic-gateway/internal/testutil"
)

type fakeSearcher struct {
	results []SearchResult
	err     error
	got     []SearchQuery
}

func (f *fakeSearcher) Search(_ context.Context, q SearchQuery) ([]SearchResult, error) {
	f.got = append(f.got, q)
	return f.results, f.err
}

type failingInsights struct{}

func (failingInsights) SaveInsight(context.Context, *storage.Insight) error {
	return errors.New("disk full at /var/lib/socratic")
}

func newRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	reg, err := Default(deps)
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	return reg
}

func run(t *testing.T, reg *Registry, name, input string) map[string]any {
	t.Helper()
	out, err := reg.Execute(context.Background(), name, json.RawMessage(input))
	if err != nil {
		t.Fatalf("Execute(%s) error = %v", name, err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal output: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return decoded
}

func TestDefault_Order(t *testing.T) {
	reg := newRegistry(t, Deps{})

	var names []string
	for _, tool := range reg.All() {
		names = append(names, tool.Name())
	}
	want := []string{
		NameWebSearch, NameMapArgument, NameSuggestReading, NameDiscoverResources,
		NameDrawDiagram, NameRetrievalPractice, NameProgressiveDisclosure, NameSaveInsight,
	}
	if !slices.Equal(names, want) {
		t.Errorf("tool order = %v, want %v", names, want)
	}

	defs := reg.Definitions()
	if len(defs) != 8 {
		t.Fatalf("Definitions() = %d entries, want 8", len(defs))
	}
	for _, d := range defs {
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
		if d.Parameters == nil {
			t.Errorf("%s has no parameters", d.Name)
		}
	}
}

func TestSchemas(t *testing.T) {
	reg := newRegistry(t, Deps{})

	search, ok := reg.Get(NameWebSearch)
	if !ok {
		t.Fatalf("%s not registered", NameWebSearch)
	}
	query := search.Schema().Properties["query"]
	if query == nil || query.MaxLength == nil {
		t.Fatalf("query schema = %+v, want maxLength", query)
	}
	if *query.MaxLength != 500 {
		t.Errorf("query maxLength = %d, want 500", *query.MaxLength)
	}
	if query.Description != "The search query" {
		t.Errorf("query description = %q", query.Description)
	}
	if !slices.Contains(search.Schema().Required, "query") {
		t.Error("query is not required")
	}

	diagram, _ := reg.Get(NameDrawDiagram)
	if got := diagram.Schema().Properties["diagramType"].Enum; !reflect.DeepEqual(got, []any{"flowchart", "sequence", "class"}) {
		t.Errorf("diagramType enum = %v", got)
	}

	layers, _ := reg.Get(NameProgressiveDisclosure)
	l := layers.Schema().Properties["layers"]
	if l.MinItems == nil || l.MaxItems == nil {
		t.Fatalf("layers schema = %+v, want item bounds", l)
	}
	if *l.MinItems != 2 || *l.MaxItems != 5 {
		t.Errorf("layers items = [%d, %d], want [2, 5]", *l.MinItems, *l.MaxItems)
	}
	if slices.Contains(layers.Schema().Required, "currentLevel") {
		t.Error("currentLevel must be optional")
	}

	insight, _ := reg.Get(NameSaveInsight)
	if slices.Contains(insight.Schema().Required, "topic") {
		t.Error("topic must be optional")
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := newRegistry(t, Deps{})

	if _, err := reg.Execute(context.Background(), "rm -rf", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("unknown tool error = %v, want ErrUnknownTool", err)
	}

	if _, err := NewRegistry(reg.All()[0], reg.All()[0]); err == nil {
		t.Error("duplicate registration error = nil")
	}

	var nilReg *Registry
	if _, ok := nilReg.Get(NameWebSearch); ok {
		t.Error("nil registry returned a tool")
	}
	if defs := nilReg.Definitions(); defs != nil {
		t.Errorf("nil registry definitions = %v", defs)
	}
}

func TestValidation(t *testing.T) {
	reg := newRegistry(t, Deps{Searcher: &fakeSearcher{}})

	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{"malformed json", NameDrawDiagram, `{"title":`},
		{"query too long", NameWebSearch, `{"query":"` + strings.Repeat("q", 501) + `"}`},
		{"bad diagram type", NameDrawDiagram, `{"title":"t","diagramType":"gantt","mermaidSyntax":"x"}`},
		{"bad recommendation type", NameSuggestReading, `{"topic":"t","recommendations":[{"title":"a","author":"b","type":"tweet","description":"d","difficulty":"beginner"}]}`},
		{"too few layers", NameProgressiveDisclosure, `{"concept":"c","layers":[{"level":1,"title":"t","explanation":"e","readinessQuestion":"q"}]}`},
		{"bad assessment", NameRetrievalPractice, `{"topic":"t","status":"feedback","question":"q","feedback":{"assessment":"great","whatWasRight":[],"whatWasMissed":[],"correctedExplanation":"c","followUpQuestion":"f"}}`},
		{"insight too long", NameSaveInsight, `{"insight":"` + strings.Repeat("i", 1001) + `"}`},
		{"topic too long", NameSaveInsight, `{"insight":"ok","topic":"` + strings.Repeat("t", 101) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), tt.tool, json.RawMessage(tt.input))
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Execute() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestValidation_CountsCharacters(t *testing.T) {
	reg := newRegistry(t, Deps{Searcher: &fakeSearcher{}})
	query := strings.Repeat("é", 500)
	if _, err := reg.Execute(context.Background(), NameWebSearch, json.RawMessage(`{"query":"`+query+`"}`)); err != nil {
		t.Errorf("500-character query rejected: %v", err)
	}
}

func TestEchoTools(t *testing.T) {
	reg := newRegistry(t, Deps{})

	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{"mapArgument", NameMapArgument, `{"claim":"c","premises":[{"text":"p","evidence":["e"]}],"conclusion":"k","counterarguments":[{"point":"x","rebuttal":"y"}]}`},
		{"suggestReading", NameSuggestReading, `{"topic":"ethics","recommendations":[{"title":"Republic","author":"Plato","type":"book","description":"d","difficulty":"intermediate"}]}`},
		{"drawDiagram", NameDrawDiagram, `{"title":"Flow","diagramType":"flowchart","mermaidSyntax":"graph TD; A-->B"}`},
		{"retrievalPractice", NameRetrievalPractice, `{"topic":"t","status":"question","question":"What is justice?","hint":"Think of the city"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want map[string]any
			if err := json.Unmarshal([]byte(tt.input), &want); err != nil {
				t.Fatal(err)
			}
			if got := run(t, reg, tt.tool, tt.input); !reflect.DeepEqual(got, want) {
				t.Errorf("output = %v, want %v", got, want)
			}
		})
	}
}

func TestProgressiveDisclosure_DefaultLevel(t *testing.T) {
	reg := newRegistry(t, Deps{})
	layers := `[{"level":1,"title":"a","explanation":"e","readinessQuestion":"q"},{"level":2,"title":"b","explanation":"e","analogy":"like","readinessQuestion":"q"}]`

	out := run(t, reg, NameProgressiveDisclosure, `{"concept":"recursion","layers":`+layers+`}`)
	if out["currentLevel"] != float64(1) {
		t.Errorf("default currentLevel = %v, want 1", out["currentLevel"])
	}

	out = run(t, reg, NameProgressiveDisclosure, `{"concept":"recursion","layers":`+layers+`,"currentLevel":2}`)
	if out["currentLevel"] != float64(2) {
		t.Errorf("currentLevel = %v, want 2", out["currentLevel"])
	}
}

func TestWebSearch(t *testing.T) {
	long := strings.Repeat("x", 400)

	tests := []struct {
		name      string
		searcher  Searcher
		wantError string
		wantHits  int
	}{
		{"no searcher", nil, "TAVILY_API_KEY is not set", 0},
		{"not configured", &fakeSearcher{err: ErrSearchNotConfigured}, "TAVILY_API_KEY is not set", 0},
		{"upstream status", &fakeSearcher{err: &StatusError{Code: 502}}, "Tavily API error: 502", 0},
		{"hits", &fakeSearcher{results: []SearchResult{{Title: "a", URL: "https://a", Content: long}, {Title: "b", URL: "https://b"}}}, "", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t, Deps{Searcher: tt.searcher})
			out := run(t, reg, NameWebSearch, `{"query":"socrates"}`)

			results, ok := out["results"].([]any)
			if !ok {
				t.Fatalf("results must be an array, got %T", out["results"])
			}
			if len(results) != tt.wantHits {
				t.Errorf("results = %d, want %d", len(results), tt.wantHits)
			}
			errText, hasError := out["error"]
			switch {
			case tt.wantError == "" && hasError:
				t.Errorf("unexpected error field %v", errText)
			case tt.wantError != "" && errText != tt.wantError:
				t.Errorf("error = %v, want %q", errText, tt.wantError)
			}
			if tt.wantHits > 0 {
				snippet, _ := results[0].(map[string]any)["snippet"].(string)
				if len(snippet) != 300 {
					t.Errorf("snippet length = %d, want 300", len(snippet))
				}
			}
		})
	}
}

func TestWebSearch_TransportErrorFailsTool(t *testing.T) {
	reg := newRegistry(t, Deps{Searcher: &fakeSearcher{err: errors.New("connection reset")}})
	if _, err := reg.Execute(context.Background(), NameWebSearch, json.RawMessage(`{"query":"q"}`)); err == nil {
		t.Error("Execute() error = nil, want transport failure")
	}
}

func TestDiscoverResources(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{
		{Title: "a", URL: "https://a", Content: "c", PublishedDate: "2026-10-01"},
		{Title: "b", URL: "https://b", Content: "c"},
	}}
	reg := newRegistry(t, Deps{Searcher: searcher})

	out := run(t, reg, NameDiscoverResources, `{"query":"stoicism today","topic":"stoicism","reason":"fresh views"}`)

	if len(searcher.got) != 1 {
		t.Fatalf("searches = %d, want 1", len(searcher.got))
	}
	if q := searcher.got[0]; q.Days != 14 || q.MaxResults != 5 {
		t.Errorf("query = %+v, want days 14 and max 5", q)
	}

	if out["topic"] != "stoicism" || out["reason"] != "fresh views" {
		t.Errorf("output = %v", out)
	}
	resources, _ := out["resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(resources))
	}
	if got := resources[0].(map[string]any)["publishedDate"]; got != "2026-10-01" {
		t.Errorf("publishedDate = %v", got)
	}
	second := resources[1].(map[string]any)
	if got, ok := second["publishedDate"]; !ok || got != nil {
		t.Errorf("missing publishedDate must be null, got %v (present %v)", got, ok)
	}
}

func TestSaveInsight(t *testing.T) {
	store := memory.New()
	reg := newRegistry(t, Deps{Insights: store, NewID: func() string { return "ins_1" }})

	ctx := WithPrincipal(context.Background(), "key_abc")
	out, err := reg.Execute(ctx, NameSaveInsight, json.RawMessage(`{"insight":"Courage is knowing what not to fear","topic":"virtue"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	saved := out.(InsightOutput)
	if !saved.Saved {
		t.Error("Saved = false")
	}
	if saved.Topic == nil || *saved.Topic != "virtue" {
		t.Errorf("Topic = %v, want virtue", saved.Topic)
	}

	got, err := store.ListInsights(context.Background(), "key_abc", 0)
	if err != nil {
		t.Fatalf("ListInsights() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "ins_1" || got[0].Topic != "virtue" {
		t.Errorf("stored insights = %+v", got)
	}
}

func TestSaveInsight_NullTopic(t *testing.T) {
	reg := newRegistry(t, Deps{Insights: memory.New()})
	out := run(t, reg, NameSaveInsight, `{"insight":"x"}`)
	if out["saved"] != true {
		t.Errorf("saved = %v", out["saved"])
	}
	if topic, ok := out["topic"]; !ok || topic != nil {
		t.Errorf("topic must be null, got %v (present %v)", topic, ok)
	}
}

func TestSaveInsight_Failure(t *testing.T) {
	tests := []struct {
		name     string
		insights storage.InsightStore
	}{
		{"store error", failingInsights{}},
		{"no store", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t, Deps{Insights: tt.insights})
			out := run(t, reg, NameSaveInsight, `{"insight":"x","topic":"y"}`)
			if out["saved"] != false || out["insight"] != "x" {
				t.Errorf("output = %v", out)
			}
			errText, _ := out["error"].(string)
			if errText == "" {
				t.Error("error field is empty")
			}
			if strings.Contains(errText, "/var/lib") {
				t.Errorf("error leaks store detail: %q", errText)
			}
		})
	}
}

func TestTavilyClient_Replay(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "tavily_search")
	client := NewTavilyClient("tvly-test", WithHTTPClient(testutil.VCRHTTPClient(rec)))

	results, err := client.Search(context.Background(), SearchQuery{Query: "allegory of the cave", MaxResults: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Title != "Allegory of the Cave" {
		t.Errorf("title = %q", results[0].Title)
	}
	if len(results[0].Content) <= 300 {
		t.Errorf("content length = %d, want more than 300", len(results[0].Content))
	}
}

func TestDiscoverResources_Replay(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "tavily_discover")
	client := NewTavilyClient("tvly-test", WithHTTPClient(testutil.VCRHTTPClient(rec)))
	reg := newRegistry(t, Deps{Searcher: client})

	out := run(t, reg, NameDiscoverResources, `{"query":"new research on virtue ethics","topic":"ethics","reason":"recent takes"}`)
	resources, _ := out["resources"].([]any)
	if len(resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(resources))
	}
	if got := resources[0].(map[string]any)["publishedDate"]; got != "2026-10-02" {
		t.Errorf("publishedDate = %v", got)
	}
}

func TestTavilyClient_Request(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	if _, err := client.Search(context.Background(), SearchQuery{Query: "q", MaxResults: 5, Days: 14}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := map[string]any{
		"api_key":        "tvly-test",
		"max_results":    float64(5),
		"days":           float64(14),
		"include_answer": false,
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%q] = %v, want %v", k, body[k], v)
		}
	}
}

func TestTavilyClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := client.Search(context.Background(), SearchQuery{Query: "q"})
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("Search() error = %v, want *StatusError", err)
	}
	if status.Code != 429 {
		t.Errorf("Code = %d, want 429", status.Code)
	}
	if err.Error() != "Tavily API error: 429" {
		t.Errorf("Error() = %q", err.Error())
	}

	if _, err := NewTavilyClient("").Search(context.Background(), SearchQuery{Query: "q"}); !errors.Is(err, ErrSearchNotConfigured) {
		t.Errorf("unconfigured error = %v, want ErrSearchNotConfigured", err)
	}
}

func TestTavilyClient_DefaultTransportRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached loopback server")
	}))
	defer srv.Close()

	client := NewTavilyClient("tvly-test", WithBaseURL(srv.URL))
	if _, err := client.Search(context.Background(), SearchQuery{Query: "q"}); err == nil {
		t.Error("Search() error = nil, want refusal")
	}
}

func TestPrincipalFrom(t *testing.T) {
	if got := PrincipalFrom(context.Background()); got != "" {
		t.Errorf("empty context principal = %q", got)
	}
	if got := PrincipalFrom(WithPrincipal(context.Background(), "p")); got != "p" {
		t.Errorf("PrincipalFrom() = %q, want p", got)
	}
}
