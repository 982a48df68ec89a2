package ai

import (
	"context"
	"testing"

	"github.com/washboard/backend/internal/models"
)

func TestMockAnalyzerStartFailure(t *testing.T) {
	m := MockAnalyzer{ModelVersion: "mock-v1"}
	transcript := "Bonjour, la machine 5 à la laverie de Paris ne démarre pas, j'ai inséré 8 euros"

	got, err := m.Analyze(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Category != models.CategoryTechnical {
		t.Errorf("category = %q, want technical", got.Category)
	}
	if got.ProblemType != "start_failure" {
		t.Errorf("problem_type = %q, want start_failure", got.ProblemType)
	}
	if !got.ActionRequired {
		t.Error("expected action_required true")
	}
	if got.MachineID != "5" {
		t.Errorf("machine_id = %q, want 5", got.MachineID)
	}
	if !got.Escalate() {
		t.Error("expected analysis to escalate")
	}
}

func TestMockAnalyzerInformational(t *testing.T) {
	m := MockAnalyzer{ModelVersion: "mock-v1"}

	got, err := m.Analyze(context.Background(), "Quels sont vos horaires d'ouverture ?")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Category != models.CategoryInformational {
		t.Errorf("category = %q, want informational", got.Category)
	}
	if got.ActionRequired {
		t.Error("expected action_required false")
	}
	if got.Priority != models.PriorityLow {
		t.Errorf("priority = %q, want low", got.Priority)
	}
	if got.Escalate() {
		t.Error("expected no escalation")
	}
}

func TestMockAnalyzerUrgent(t *testing.T) {
	m := MockAnalyzer{ModelVersion: "mock-v1"}

	got, err := m.Analyze(context.Background(), "Urgent, il y a une fuite d'eau dans la laverie !")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Category != models.CategoryUrgent {
		t.Errorf("category = %q, want urgent", got.Category)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("priority = %q, want high", got.Priority)
	}
	if got.Sentiment != models.SentimentNegative {
		t.Errorf("sentiment = %q, want negative", got.Sentiment)
	}
}

func TestMockAnalyzerDeterministic(t *testing.T) {
	m := MockAnalyzer{ModelVersion: "mock-v1"}
	transcript := "la machine 2 est en panne"

	a, _ := m.Analyze(context.Background(), transcript)
	b, _ := m.Analyze(context.Background(), transcript)
	if a.Category != b.Category || a.Priority != b.Priority || a.EstimatedTime != b.EstimatedTime {
		t.Error("expected deterministic analysis")
	}
}
