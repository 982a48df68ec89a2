package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/washboard/backend/internal/ai"
	"github.com/washboard/backend/internal/models"
	"github.com/washboard/backend/internal/rounded"
	"github.com/washboard/backend/internal/service"
)

const testSecret = "test-webhook-secret"

type memStore struct {
	nextID    int
	callIDs   map[string]string
	calls     map[string]models.Call
	analyses  map[string]models.CallAnalysis
	followUps []models.FollowUpAction
	laundries map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		callIDs:   map[string]string{},
		calls:     map[string]models.Call{},
		analyses:  map[string]models.CallAnalysis{},
		laundries: map[string]string{"+33187654321": "laundry-paris-1"},
	}
}

func (m *memStore) SaveCall(ctx context.Context, call models.Call, analysis *models.CallAnalysis,
	segments []models.CallSegment, variables []models.CallVariable, tools []models.ToolUsage) (string, error) {
	laundryID, ok := m.laundries[call.CalledNumber]
	if !ok {
		return "", fmt.Errorf("called number does not match any laundry: %s", call.CalledNumber)
	}
	call.LaundryID = laundryID

	id, exists := m.callIDs[call.ExternalID]
	if !exists {
		m.nextID++
		id = fmt.Sprintf("call-%d", m.nextID)
		m.callIDs[call.ExternalID] = id
	}
	call.ID = id
	m.calls[id] = call
	if analysis != nil {
		a := *analysis
		a.ID = "analysis-" + id
		a.CallID = id
		m.analyses[id] = a
	}
	return id, nil
}

func (m *memStore) AnalysisIDForCall(ctx context.Context, callID string) (string, error) {
	a, ok := m.analyses[callID]
	if !ok {
		return "", errors.New("no rows in result set")
	}
	return a.ID, nil
}

func (m *memStore) InsertFollowUpAction(ctx context.Context, f models.FollowUpAction) error {
	m.followUps = append(m.followUps, f)
	return nil
}

func newWebhookRouter(store service.CallStore, analyzer ai.Analyzer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &Handler{
		Pipeline:      &service.Pipeline{Store: store, Analyzer: analyzer, Logger: zerolog.Nop()},
		Validator:     validator.New(),
		Logger:        zerolog.Nop(),
		WebhookSecret: testSecret,
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.POST("/webhooks/rounded", h.Webhook)
	return r
}

func eventBody(t *testing.T, eventType, transcript string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type":      eventType,
		"call_id":   "call_webhook_test",
		"timestamp": "2026-08-01T10:00:00Z",
		"data": map[string]any{
			"caller_number": "+33612345678",
			"called_number": "+33187654321",
			"direction":     "inbound",
			"status":        "completed",
			"duration":      120,
			"transcript":    transcript,
			"task_name":     "report_problem",
			"intent":        "machine_issue",
			"variables":     map[string]any{"machine_number": 5},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func postWebhook(r *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/rounded", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(rounded.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r := newWebhookRouter(newMemStore(), ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := eventBody(t, rounded.TypeCallCompleted, "")

	if w := postWebhook(r, body, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: expected 401, got %d", w.Code)
	}
	if w := postWebhook(r, body, "deadbeef"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong signature: expected 401, got %d", w.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	r := newWebhookRouter(newMemStore(), ai.MockAnalyzer{ModelVersion: "mock-v1"})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/rounded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	r := newWebhookRouter(newMemStore(), ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := []byte(`{"type": "call.completed",`)

	w := postWebhook(r, body, rounded.Sign(testSecret, body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWebhookValidationFailure(t *testing.T) {
	r := newWebhookRouter(newMemStore(), ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body, _ := json.Marshal(map[string]any{
		"type": rounded.TypeCallCompleted,
		// call_id missing
		"data": map[string]any{"caller_number": "+33612345678", "called_number": "+33187654321"},
	})

	w := postWebhook(r, body, rounded.Sign(testSecret, body))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestWebhookTranscriptReadyFlow(t *testing.T) {
	store := newMemStore()
	r := newWebhookRouter(store, ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := eventBody(t, rounded.TypeTranscriptReady,
		"Bonjour, la machine 5 à la laverie de Paris ne démarre pas, j'ai inséré 8 euros")

	w := postWebhook(r, body, rounded.Sign(testSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Success {
		t.Errorf("expected success body, got %s", w.Body.String())
	}

	if len(store.calls) != 1 {
		t.Fatalf("expected 1 call row, got %d", len(store.calls))
	}
	if len(store.analyses) != 1 {
		t.Fatalf("expected 1 analysis row, got %d", len(store.analyses))
	}
	// The mock flags a start failure as action-required, so it escalates.
	if len(store.followUps) != 1 {
		t.Fatalf("expected 1 follow-up action, got %d", len(store.followUps))
	}
	if store.followUps[0].ActionType != models.ActionTypeUrgentNotification {
		t.Errorf("action_type = %q", store.followUps[0].ActionType)
	}
}

func TestWebhookCompletedEventStoresRawCallOnly(t *testing.T) {
	store := newMemStore()
	r := newWebhookRouter(store, ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := eventBody(t, rounded.TypeCallCompleted, "")

	w := postWebhook(r, body, rounded.Sign(testSecret, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(store.calls) != 1 || len(store.analyses) != 0 || len(store.followUps) != 0 {
		t.Errorf("expected raw call only: calls=%d analyses=%d followUps=%d",
			len(store.calls), len(store.analyses), len(store.followUps))
	}
}

func TestWebhookUnknownRecipient(t *testing.T) {
	store := newMemStore()
	store.laundries = map[string]string{}
	r := newWebhookRouter(store, ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := eventBody(t, rounded.TypeCallCompleted, "")

	w := postWebhook(r, body, rounded.Sign(testSecret, body))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if len(store.calls) != 0 {
		t.Error("expected no rows after aborted write")
	}
}

func TestWebhookRedelivery(t *testing.T) {
	store := newMemStore()
	r := newWebhookRouter(store, ai.MockAnalyzer{ModelVersion: "mock-v1"})
	body := eventBody(t, rounded.TypeTranscriptReady, "la machine 5 ne démarre pas")
	sig := rounded.Sign(testSecret, body)

	if w := postWebhook(r, body, sig); w.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", w.Code)
	}
	if w := postWebhook(r, body, sig); w.Code != http.StatusOK {
		t.Fatalf("second delivery: expected 200, got %d", w.Code)
	}
	if len(store.calls) != 1 {
		t.Errorf("expected 1 call row after redelivery, got %d", len(store.calls))
	}
}
