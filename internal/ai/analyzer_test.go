package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/washboard/backend/internal/models"
)

const validAnalysisJSON = `{
	"category": "technical",
	"priority": "high",
	"sentiment": "negative",
	"summary": "Machine 5 does not start",
	"keywords": ["machine", "start"],
	"machine_id": "5",
	"problem_type": "start_failure",
	"action_required": true,
	"action_type": "technician_dispatch",
	"estimated_time": "4h"
}`

func TestParseAnalysisValid(t *testing.T) {
	got, err := parseAnalysis(validAnalysisJSON, "test-model")
	if err != nil {
		t.Fatalf("parseAnalysis: %v", err)
	}
	if got.Category != models.CategoryTechnical {
		t.Errorf("category = %q", got.Category)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("priority = %q", got.Priority)
	}
	if got.MachineID != "5" {
		t.Errorf("machine_id = %q", got.MachineID)
	}
	if !got.ActionRequired {
		t.Error("expected action_required true")
	}
	if got.ModelVersion != "test-model" {
		t.Errorf("model_version = %q", got.ModelVersion)
	}
}

func TestParseAnalysisFencedJSON(t *testing.T) {
	fenced := "```json\n" + validAnalysisJSON + "\n```"
	got, err := parseAnalysis(fenced, "test-model")
	if err != nil {
		t.Fatalf("parseAnalysis: %v", err)
	}
	if got.Category != models.CategoryTechnical {
		t.Errorf("category = %q", got.Category)
	}
}

func TestParseAnalysisRejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"prose", "The caller reported a broken machine."},
		{"bad category", `{"category":"billing","priority":"low","sentiment":"neutral","summary":"x","action_required":false}`},
		{"bad priority", `{"category":"technical","priority":"critical","sentiment":"neutral","summary":"x","action_required":false}`},
		{"bad sentiment", `{"category":"technical","priority":"low","sentiment":"angry","summary":"x","action_required":false}`},
		{"missing summary", `{"category":"technical","priority":"low","sentiment":"neutral","summary":"","action_required":false}`},
		{"missing action_required", `{"category":"technical","priority":"low","sentiment":"neutral","summary":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseAnalysis(tc.content, "test-model")
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
		})
	}
}

func chatCompletionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestOpenAICompatAnalyzerAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		_ = json.NewEncoder(w).Encode(chatCompletionResponse(validAnalysisJSON))
	}))
	defer srv.Close()

	a := OpenAICompatAnalyzer{BaseURL: srv.URL, Model: "test-model", APIKey: "test-key"}
	got, err := a.Analyze(context.Background(), "la machine 5 ne démarre pas")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.ProblemType != "start_failure" {
		t.Errorf("problem_type = %q", got.ProblemType)
	}
}

func TestOpenAICompatAnalyzerBadReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletionResponse("I could not classify this call, sorry."))
	}))
	defer srv.Close()

	a := OpenAICompatAnalyzer{BaseURL: srv.URL, Model: "test-model"}
	_, err := a.Analyze(context.Background(), "bonjour")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestOpenAICompatAnalyzerServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := OpenAICompatAnalyzer{BaseURL: srv.URL, Model: "test-model"}
	if _, err := a.Analyze(context.Background(), "bonjour"); err == nil {
		t.Fatal("expected error")
	}
}
