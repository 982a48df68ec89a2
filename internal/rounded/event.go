package rounded

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/washboard/backend/internal/models"
)

// Event is one inbound webhook notification from the Rounded call provider.
// Fields are validated before any business logic touches them; a payload
// that fails validation is rejected at the entry point.
type Event struct {
	Type      string    `json:"type" validate:"required"`
	CallID    string    `json:"call_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data" validate:"required"`
}

type EventData struct {
	CallerNumber string            `json:"caller_number" validate:"required"`
	CalledNumber string            `json:"called_number" validate:"required"`
	Direction    string            `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	Status       string            `json:"status" validate:"omitempty,oneof=completed failed in-progress"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Duration     int               `json:"duration" validate:"gte=0"`
	RecordingURL string            `json:"recording_url" validate:"omitempty,url"`
	Transcript   string            `json:"transcript"`
	TaskName     string            `json:"task_name"`
	Intent       string            `json:"intent"`
	Variables    map[string]any    `json:"variables"`
	ToolUsage    *ToolUsagePayload `json:"tool_usage,omitempty"`
}

type ToolUsagePayload struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Success    bool            `json:"success"`
}

// Kind is the closed set of event variants the pipeline branches on.
type Kind int

const (
	KindOther Kind = iota
	KindCallCompleted
	KindTranscriptReady
)

const (
	TypeCallCompleted   = "call.completed"
	TypeTranscriptReady = "call.transcript.ready"
)

func (e Event) Kind() Kind {
	switch e.Type {
	case TypeCallCompleted:
		return KindCallCompleted
	case TypeTranscriptReady:
		return KindTranscriptReady
	default:
		return KindOther
	}
}

// HasTranscript reports whether the event carries analyzable text.
func (e Event) HasTranscript() bool {
	return e.Data.Transcript != ""
}

// ToCall maps the provider payload onto the domain model. raw is the
// original request body, kept as an audit snapshot. The laundry reference
// is resolved from the called number at persistence time.
func (e Event) ToCall(raw []byte) models.Call {
	direction := models.CallDirection(e.Data.Direction)
	if direction == "" {
		direction = models.DirectionInbound
	}
	status := models.CallStatus(e.Data.Status)
	if status == "" {
		status = models.CallStatusInProgress
	}
	startedAt := e.Data.StartedAt
	if startedAt.IsZero() {
		startedAt = e.Timestamp
	}
	return models.Call{
		ExternalID:      e.CallID,
		CallerNumber:    e.Data.CallerNumber,
		CalledNumber:    e.Data.CalledNumber,
		Direction:       direction,
		Status:          status,
		StartedAt:       startedAt,
		EndedAt:         e.Data.EndedAt,
		DurationSeconds: e.Data.Duration,
		RecordingURL:    e.Data.RecordingURL,
		Transcript:      e.Data.Transcript,
		EventType:       e.Type,
		RawJSON:         raw,
	}
}

// Segments extracts task/intent segments. The provider sends at most one
// task block per event.
func (e Event) Segments() []models.CallSegment {
	if e.Data.TaskName == "" && e.Data.Intent == "" {
		return nil
	}
	return []models.CallSegment{{TaskName: e.Data.TaskName, Intent: e.Data.Intent}}
}

// VariableRows flattens the event's variable map, one row per key. Keys are
// sorted so insertion order is stable across deliveries.
func (e Event) VariableRows() []models.CallVariable {
	if len(e.Data.Variables) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Data.Variables))
	for k := range e.Data.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.CallVariable, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.CallVariable{Name: k, Value: stringifyVariable(e.Data.Variables[k])})
	}
	return out
}

// ToolUsageRows returns the tool invocation records carried by the event.
func (e Event) ToolUsageRows() []models.ToolUsage {
	if e.Data.ToolUsage == nil || e.Data.ToolUsage.Name == "" {
		return nil
	}
	tu := e.Data.ToolUsage
	return []models.ToolUsage{{
		Name:       tu.Name,
		Parameters: tu.Parameters,
		Result:     tu.Result,
		Success:    tu.Success,
	}}
}

func stringifyVariable(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		// JSON numbers decode as float64; keep integers readable.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
