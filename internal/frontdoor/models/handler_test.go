package models

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/socratic-gateway/internal/model"
)

func TestHandleList(t *testing.T) {
	tests := []struct {
		name    string
		creds   model.Credentials
		wantIDs []string
	}{
		{"anthropic only", model.Credentials{Anthropic: true}, []string{"claude-sonnet-4-5", "claude-haiku-4-5"}},
		{"openai only", model.Credentials{OpenAI: true}, []string{"gpt-4o", "gpt-4o-mini"}},
		{"none", model.Credentials{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(model.NewSelector(func() model.Credentials { return tt.creds }))

			rec := httptest.NewRecorder()
			h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			var body struct {
				Models []map[string]any `json:"models"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Models == nil {
				t.Fatal("models must be an array, got null")
			}
			if len(body.Models) != len(tt.wantIDs) {
				t.Fatalf("models = %v, want %v", body.Models, tt.wantIDs)
			}
			for i, id := range tt.wantIDs {
				if body.Models[i]["id"] != id {
					t.Errorf("models[%d].id = %v, want %s", i, body.Models[i]["id"], id)
				}
				if _, leaked := body.Models[i]["model"]; leaked {
					t.Errorf("models[%d] exposes the provider model name", i)
				}
			}
		})
	}
}
