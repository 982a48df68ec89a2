package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/washboard/backend/internal/ai"
	"github.com/washboard/backend/internal/models"
	"github.com/washboard/backend/internal/rounded"
)

// CallStore is the persistence contract the pipeline needs. *db.Store
// implements it; tests use an in-memory fake.
type CallStore interface {
	SaveCall(ctx context.Context, call models.Call, analysis *models.CallAnalysis,
		segments []models.CallSegment, variables []models.CallVariable, tools []models.ToolUsage) (string, error)
	AnalysisIDForCall(ctx context.Context, callID string) (string, error)
	InsertFollowUpAction(ctx context.Context, f models.FollowUpAction) error
}

// StoreError wraps a persistence failure. It is the only pipeline error a
// caller may surface as a server error; everything else degrades internally.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("persistence failed (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type Outcome struct {
	CallID    string
	Analyzed  bool
	Escalated bool
}

// Pipeline processes one webhook event end to end: analyze the transcript
// when there is one, persist the call aggregate, escalate when warranted.
type Pipeline struct {
	Store    CallStore
	Analyzer ai.Analyzer
	Logger   zerolog.Logger
}

// HandleEvent runs the two-path pipeline. A transcript-ready event with a
// non-empty transcript takes the analysis path; any analyzer failure
// degrades to raw-call persistence rather than failing the event.
func (p *Pipeline) HandleEvent(ctx context.Context, ev rounded.Event, raw []byte) (Outcome, error) {
	var analysis *models.CallAnalysis
	if ev.Kind() == rounded.KindTranscriptReady && ev.HasTranscript() {
		result, err := p.Analyzer.Analyze(ctx, ev.Data.Transcript)
		if err != nil {
			p.Logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("transcript analysis failed, storing raw call only")
		} else {
			analysis = &result
		}
	}

	var (
		segments  []models.CallSegment
		variables []models.CallVariable
		tools     []models.ToolUsage
	)
	if analysis != nil {
		segments = ev.Segments()
		variables = ev.VariableRows()
		tools = ev.ToolUsageRows()
	}

	callID, err := p.Store.SaveCall(ctx, ev.ToCall(raw), analysis, segments, variables, tools)
	if err != nil {
		return Outcome{}, &StoreError{Op: "save call", Err: err}
	}

	out := Outcome{CallID: callID, Analyzed: analysis != nil}
	if analysis != nil && analysis.Escalate() {
		out.Escalated = p.escalate(ctx, ev, callID, *analysis)
	}
	return out, nil
}

// escalate creates the follow-up action for an urgent/actionable analysis.
// Best-effort: runs after the aggregate is committed, and a failure here is
// logged but never fails the event.
func (p *Pipeline) escalate(ctx context.Context, ev rounded.Event, callID string, analysis models.CallAnalysis) bool {
	analysisID, err := p.Store.AnalysisIDForCall(ctx, callID)
	if err != nil {
		select {
		case <-ctx.Done():
			p.Logger.Warn().Err(ctx.Err()).Str("call_id", ev.CallID).Msg("escalation skipped, context done")
			return false
		case <-time.After(200 * time.Millisecond):
		}
		analysisID, err = p.Store.AnalysisIDForCall(ctx, callID)
		if err != nil {
			p.Logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("escalation skipped, analysis row not found")
			return false
		}
	}

	metadata, _ := json.Marshal(map[string]any{
		"caller_number": ev.Data.CallerNumber,
		"priority":      analysis.Priority,
		"action_type":   analysis.ActionType,
	})
	action := models.FollowUpAction{
		ID:          uuid.NewString(),
		AnalysisID:  analysisID,
		ActionType:  models.ActionTypeUrgentNotification,
		Description: buildEscalationDescription(ev, analysis),
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.Store.InsertFollowUpAction(ctx, action); err != nil {
		p.Logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("escalation write failed")
		return false
	}
	p.Logger.Info().Str("call_id", ev.CallID).Str("priority", analysis.Priority).Msg("follow-up action created")
	return true
}

func buildEscalationDescription(ev rounded.Event, analysis models.CallAnalysis) string {
	desc := fmt.Sprintf("Urgent call from %s (%s priority)", ev.Data.CallerNumber, analysis.Priority)
	if analysis.MachineID != "" {
		desc += fmt.Sprintf(", machine %s", analysis.MachineID)
	}
	if analysis.ProblemType != "" {
		desc += ": " + analysis.ProblemType
	}
	return desc
}
