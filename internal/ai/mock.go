package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/washboard/backend/internal/models"
	"github.com/washboard/backend/internal/utils"
)

// MockAnalyzer classifies transcripts with keyword heuristics. Deterministic,
// used for local dev and tests when no AI endpoint is configured.
type MockAnalyzer struct {
	ModelVersion string
}

var machinePattern = regexp.MustCompile(`(?i)machine\s*(?:n[o°]?\s*)?(\d+)`)

var (
	startFailureTerms = []string{"ne démarre pas", "ne demarre pas", "won't start", "wont start", "doesn't start", "not starting"}
	leakTerms         = []string{"fuite", "leak", "inond", "flood"}
	breakdownTerms    = []string{"panne", "broken", "hors service", "out of order", "bloqué", "bloquee", "stuck"}
	paymentTerms      = []string{"euros", "rembours", "refund", "paiement", "payment", "pièce", "coin"}
	urgentTerms       = []string{"urgence", "urgent", "fumée", "fumee", "smoke", "inond", "flood"}
)

func (m MockAnalyzer) Analyze(ctx context.Context, transcript string) (models.CallAnalysis, error) {
	lower := strings.ToLower(transcript)

	var keywords []string
	problemType := ""
	switch {
	case containsAny(lower, startFailureTerms):
		problemType = "start_failure"
		keywords = append(keywords, "start_failure")
	case containsAny(lower, leakTerms):
		problemType = "leak"
		keywords = append(keywords, "leak")
	case containsAny(lower, breakdownTerms):
		problemType = "breakdown"
		keywords = append(keywords, "breakdown")
	case containsAny(lower, paymentTerms):
		problemType = "payment_issue"
		keywords = append(keywords, "payment")
	}

	urgent := containsAny(lower, urgentTerms)
	category := models.CategoryInformational
	switch {
	case urgent:
		category = models.CategoryUrgent
	case problemType != "":
		category = models.CategoryTechnical
	}

	priority := models.PriorityLow
	actionType := ""
	switch {
	case urgent || problemType == "leak":
		priority = models.PriorityHigh
		actionType = "emergency_callback"
	case category == models.CategoryTechnical:
		priority = models.PriorityMedium
		actionType = "technician_dispatch"
	}

	actionRequired := category != models.CategoryInformational

	sentiment := models.SentimentNeutral
	if problemType != "" || urgent {
		sentiment = models.SentimentNegative
	}

	machineID := ""
	if match := machinePattern.FindStringSubmatch(transcript); len(match) == 2 {
		machineID = match[1]
		keywords = append(keywords, "machine "+machineID)
	}

	estimates := []string{"1h", "4h", "24h", "48h"}
	estimated := ""
	if actionRequired {
		estimated = estimates[int(utils.HashStringToUint64(transcript))%len(estimates)]
	}

	summary := transcript
	if len(summary) > 160 {
		summary = summary[:160]
	}

	return models.CallAnalysis{
		Category:       category,
		Priority:       priority,
		Sentiment:      sentiment,
		Summary:        fmt.Sprintf("Caller report: %s", summary),
		Keywords:       keywords,
		MachineID:      machineID,
		ProblemType:    problemType,
		ActionRequired: actionRequired,
		ActionType:     actionType,
		EstimatedTime:  estimated,
		ModelVersion:   m.ModelVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
