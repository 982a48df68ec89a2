package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/washboard/backend/internal/models"
)

const analysisSystemPrompt = `You are an assistant classifying phone calls made to a laundromat fleet operator.
Respond with a single JSON object and nothing else, using exactly these keys:
{"category": "technical"|"informational"|"urgent",
 "priority": "low"|"medium"|"high",
 "sentiment": "positive"|"neutral"|"negative",
 "summary": string,
 "keywords": [string],
 "machine_id": string or null,
 "problem_type": string or null,
 "action_required": boolean,
 "action_type": string or null,
 "estimated_time": string or null}
Do not wrap the object in markdown fences or add commentary.`

// OpenAICompatAnalyzer sends transcripts to an OpenAI-compatible endpoint
// and enforces the structured-output contract on the reply.
type OpenAICompatAnalyzer struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

func (a OpenAICompatAnalyzer) Analyze(ctx context.Context, transcript string) (models.CallAnalysis, error) {
	messages := []ChatMessage{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: transcript},
	}
	content, err := chatComplete(ctx, a.BaseURL, a.APIKey, a.Model, messages, a.Timeout)
	if err != nil {
		return models.CallAnalysis{}, err
	}
	return parseAnalysis(content, a.Model)
}

type analysisPayload struct {
	Category       string   `json:"category"`
	Priority       string   `json:"priority"`
	Sentiment      string   `json:"sentiment"`
	Summary        string   `json:"summary"`
	Keywords       []string `json:"keywords"`
	MachineID      *string  `json:"machine_id"`
	ProblemType    *string  `json:"problem_type"`
	ActionRequired *bool    `json:"action_required"`
	ActionType     *string  `json:"action_type"`
	EstimatedTime  *string  `json:"estimated_time"`
}

// parseAnalysis validates the model's reply against the contract. Every
// enumerated field must hold one of its allowed values; a violation is a
// *ParseError so callers can fall back to raw-call persistence.
func parseAnalysis(content, modelVersion string) (models.CallAnalysis, error) {
	trimmed := stripCodeFence(content)

	var p analysisPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return models.CallAnalysis{}, &ParseError{Reason: "not a JSON object: " + err.Error(), Raw: content}
	}

	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	switch p.Category {
	case models.CategoryTechnical, models.CategoryInformational, models.CategoryUrgent:
	default:
		return models.CallAnalysis{}, &ParseError{Reason: "invalid category " + strconvQuote(p.Category), Raw: content}
	}

	p.Priority = strings.ToLower(strings.TrimSpace(p.Priority))
	switch p.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
	default:
		return models.CallAnalysis{}, &ParseError{Reason: "invalid priority " + strconvQuote(p.Priority), Raw: content}
	}

	p.Sentiment = strings.ToLower(strings.TrimSpace(p.Sentiment))
	switch p.Sentiment {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	default:
		return models.CallAnalysis{}, &ParseError{Reason: "invalid sentiment " + strconvQuote(p.Sentiment), Raw: content}
	}

	if strings.TrimSpace(p.Summary) == "" {
		return models.CallAnalysis{}, &ParseError{Reason: "missing summary", Raw: content}
	}
	if p.ActionRequired == nil {
		return models.CallAnalysis{}, &ParseError{Reason: "missing action_required", Raw: content}
	}

	return models.CallAnalysis{
		Category:       p.Category,
		Priority:       p.Priority,
		Sentiment:      p.Sentiment,
		Summary:        strings.TrimSpace(p.Summary),
		Keywords:       p.Keywords,
		MachineID:      deref(p.MachineID),
		ProblemType:    deref(p.ProblemType),
		ActionRequired: *p.ActionRequired,
		ActionType:     deref(p.ActionType),
		EstimatedTime:  deref(p.EstimatedTime),
		ModelVersion:   modelVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// stripCodeFence tolerates models that fence the object despite the prompt.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func strconvQuote(s string) string {
	return "\"" + s + "\""
}
