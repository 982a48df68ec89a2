package ai

import (
	"context"
	"fmt"

	"github.com/washboard/backend/internal/models"
)

// Analyzer turns a call transcript into a structured analysis. Callers must
// not invoke it with an empty transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (models.CallAnalysis, error)
}

// ParseError means the language service answered, but not with a JSON object
// matching the analysis contract. Callers degrade to raw-call persistence.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("analysis response invalid: %s", e.Reason)
}
