package models

import "time"

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Call is the aggregate root: one row per unique external call id.
// All dependent rows cascade on delete.
type Call struct {
	ID              string        `json:"id"`
	ExternalID      string        `json:"external_id"`
	LaundryID       string        `json:"laundry_id"`
	CallerNumber    string        `json:"caller_number"`
	CalledNumber    string        `json:"called_number"`
	Direction       CallDirection `json:"direction"`
	Status          CallStatus    `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	RecordingURL    string        `json:"recording_url,omitempty"`
	Transcript      string        `json:"transcript,omitempty"`
	EventType       string        `json:"event_type"`
	RawJSON         []byte        `json:"raw_json,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

const (
	CategoryTechnical     = "technical"
	CategoryInformational = "informational"
	CategoryUrgent        = "urgent"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"

	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// CallAnalysis is derived from the transcript by the analyzer. At most one
// per call; never written for calls without a transcript.
type CallAnalysis struct {
	ID             string    `json:"id"`
	CallID         string    `json:"call_id"`
	Category       string    `json:"category"`
	Priority       string    `json:"priority"`
	Sentiment      string    `json:"sentiment"`
	Summary        string    `json:"summary"`
	Keywords       []string  `json:"keywords"`
	MachineID      string    `json:"machine_id,omitempty"`
	ProblemType    string    `json:"problem_type,omitempty"`
	ActionRequired bool      `json:"action_required"`
	ActionType     string    `json:"action_type,omitempty"`
	EstimatedTime  string    `json:"estimated_time,omitempty"`
	ModelVersion   string    `json:"model_version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Escalate reports whether this analysis must produce a follow-up action.
func (a CallAnalysis) Escalate() bool {
	return a.Priority == PriorityHigh || a.ActionRequired
}

type CallSegment struct {
	ID       string `json:"id"`
	CallID   string `json:"call_id"`
	TaskName string `json:"task_name"`
	Intent   string `json:"intent"`
}

type CallVariable struct {
	ID     string `json:"id"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

type ToolUsage struct {
	ID         string `json:"id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Parameters []byte `json:"parameters,omitempty"`
	Result     []byte `json:"result,omitempty"`
	Success    bool   `json:"success"`
}

const ActionTypeUrgentNotification = "urgent_notification"

// FollowUpAction is created once by the escalation trigger and consumed by
// an external notification dispatcher. Immutable after creation.
type FollowUpAction struct {
	ID          string    `json:"id"`
	AnalysisID  string    `json:"analysis_id"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	Metadata    []byte    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Laundry is a fleet site. ServiceNumber is the line the call provider
// routes through; inbound events resolve to a laundry by it.
type Laundry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	City          string    `json:"city"`
	ServiceNumber string    `json:"service_number"`
	CreatedAt     time.Time `json:"created_at"`
}
