package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/washboard/backend/internal/models"
)

// ErrUnknownRecipient means the event's called number matches no laundry
// service number; the whole write is aborted.
var ErrUnknownRecipient = errors.New("called number does not match any laundry")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveCall writes the call aggregate in one transaction. The call row is
// upserted on external_id first; dependent rows reference its internal id.
// When analysis is non-nil the previous segment/variable/tool rows are
// replaced so redelivery of the same event converges to the same state.
func (s *Store) SaveCall(ctx context.Context, call models.Call, analysis *models.CallAnalysis, segments []models.CallSegment, variables []models.CallVariable, tools []models.ToolUsage) (string, error) {
	var callID string
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		laundryID, err := laundryIDByServiceNumber(ctx, tx, call.CalledNumber)
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO calls (external_id, laundry_id, caller_number, called_number, direction, status,
				started_at, ended_at, duration_seconds, recording_url, transcript, event_type, raw_json, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
			ON CONFLICT (external_id) DO UPDATE SET
				laundry_id = EXCLUDED.laundry_id,
				status = EXCLUDED.status,
				ended_at = COALESCE(EXCLUDED.ended_at, calls.ended_at),
				duration_seconds = EXCLUDED.duration_seconds,
				recording_url = COALESCE(NULLIF(EXCLUDED.recording_url, ''), calls.recording_url),
				transcript = COALESCE(NULLIF(EXCLUDED.transcript, ''), calls.transcript),
				event_type = EXCLUDED.event_type,
				raw_json = EXCLUDED.raw_json,
				updated_at = NOW()
			RETURNING id
		`, call.ExternalID, laundryID, call.CallerNumber, call.CalledNumber, call.Direction, call.Status,
			call.StartedAt, call.EndedAt, call.DurationSeconds, call.RecordingURL, call.Transcript,
			call.EventType, call.RawJSON).Scan(&callID); err != nil {
			return err
		}

		if analysis == nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO call_analysis (call_id, category, priority, sentiment, summary, keywords,
				machine_id, problem_type, action_required, action_type, estimated_time, model_version, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (call_id) DO UPDATE SET
				category = EXCLUDED.category,
				priority = EXCLUDED.priority,
				sentiment = EXCLUDED.sentiment,
				summary = EXCLUDED.summary,
				keywords = EXCLUDED.keywords,
				machine_id = EXCLUDED.machine_id,
				problem_type = EXCLUDED.problem_type,
				action_required = EXCLUDED.action_required,
				action_type = EXCLUDED.action_type,
				estimated_time = EXCLUDED.estimated_time,
				model_version = EXCLUDED.model_version,
				created_at = EXCLUDED.created_at
		`, callID, analysis.Category, analysis.Priority, analysis.Sentiment, analysis.Summary, analysis.Keywords,
			analysis.MachineID, analysis.ProblemType, analysis.ActionRequired, analysis.ActionType,
			analysis.EstimatedTime, analysis.ModelVersion, analysis.CreatedAt)
		if err != nil {
			return err
		}

		for _, table := range []string{"call_segments", "call_variables", "tool_usages"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE call_id = $1`, callID); err != nil {
				return err
			}
		}

		for _, seg := range segments {
			if _, err := tx.Exec(ctx, `INSERT INTO call_segments (call_id, task_name, intent) VALUES ($1,$2,$3)`,
				callID, seg.TaskName, seg.Intent); err != nil {
				return err
			}
		}
		for _, v := range variables {
			if _, err := tx.Exec(ctx, `INSERT INTO call_variables (call_id, name, value) VALUES ($1,$2,$3)`,
				callID, v.Name, v.Value); err != nil {
				return err
			}
		}
		for _, t := range tools {
			if _, err := tx.Exec(ctx, `INSERT INTO tool_usages (call_id, name, parameters, result, success) VALUES ($1,$2,$3,$4,$5)`,
				callID, t.Name, t.Parameters, t.Result, t.Success); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return callID, nil
}

func laundryIDByServiceNumber(ctx context.Context, tx pgx.Tx, number string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM laundries WHERE service_number = $1`, number).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, number)
	}
	return id, err
}

// AnalysisIDForCall returns the internal id of the call's analysis row.
func (s *Store) AnalysisIDForCall(ctx context.Context, callID string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `SELECT id FROM call_analysis WHERE call_id = $1`, callID).Scan(&id)
	return id, err
}

func (s *Store) InsertFollowUpAction(ctx context.Context, f models.FollowUpAction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO follow_up_actions (id, analysis_id, action_type, description, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, f.ID, f.AnalysisID, f.ActionType, f.Description, f.Metadata, f.CreatedAt)
	return err
}

func (s *Store) ListLaundries(ctx context.Context) ([]models.Laundry, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, city, service_number, created_at FROM laundries ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Laundry
	for rows.Next() {
		var l models.Laundry
		if err := rows.Scan(&l.ID, &l.Name, &l.City, &l.ServiceNumber, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListFollowUpActions(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT f.id, f.action_type, f.description, f.metadata, f.created_at,
			ca.category, ca.priority, c.external_id, c.caller_number
		FROM follow_up_actions f
		JOIN call_analysis ca ON ca.id = f.analysis_id
		JOIN calls c ON c.id = ca.call_id
		ORDER BY f.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id          string
			actionType  string
			description string
			metadata    []byte
			createdAt   time.Time
			category    string
			priority    string
			externalID  string
			caller      string
		)
		if err := rows.Scan(&id, &actionType, &description, &metadata, &createdAt, &category, &priority, &externalID, &caller); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id":            id,
			"action_type":   actionType,
			"description":   description,
			"metadata":      jsonOrNil(metadata),
			"created_at":    createdAt,
			"category":      category,
			"priority":      priority,
			"call_id":       externalID,
			"caller_number": caller,
		})
	}
	return out, rows.Err()
}

func (s *Store) ListCalls(ctx context.Context, laundryID, category, priority, status, q string, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT c.id, c.external_id, c.laundry_id, c.caller_number, c.called_number, c.direction,
		c.status, c.started_at, c.duration_seconds, c.event_type,
		ca.category, ca.priority, ca.sentiment, ca.summary, ca.action_required
		FROM calls c
		LEFT JOIN call_analysis ca ON ca.call_id = c.id`
	var args []any
	var wheres []string
	if laundryID != "" {
		args = append(args, laundryID)
		wheres = append(wheres, fmt.Sprintf("c.laundry_id = $%d", len(args)))
	}
	if category != "" {
		args = append(args, category)
		wheres = append(wheres, fmt.Sprintf("ca.category = $%d", len(args)))
	}
	if priority != "" {
		args = append(args, priority)
		wheres = append(wheres, fmt.Sprintf("ca.priority = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		wheres = append(wheres, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(c.transcript ILIKE $%d OR c.caller_number ILIKE $%d)", len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY c.started_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id             string
			externalID     string
			lID            string
			caller         string
			called         string
			direction      string
			st             string
			startedAt      time.Time
			duration       int
			eventType      string
			cat            *string
			prio           *string
			sentiment      *string
			summary        *string
			actionRequired *bool
		)
		if err := rows.Scan(&id, &externalID, &lID, &caller, &called, &direction, &st, &startedAt, &duration,
			&eventType, &cat, &prio, &sentiment, &summary, &actionRequired); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id":              id,
			"external_id":     externalID,
			"laundry_id":      lID,
			"caller_number":   caller,
			"called_number":   called,
			"direction":       direction,
			"status":          st,
			"started_at":      startedAt,
			"duration":        duration,
			"event_type":      eventType,
			"category":        cat,
			"priority":        prio,
			"sentiment":       sentiment,
			"summary":         summary,
			"action_required": actionRequired,
		})
	}
	return out, rows.Err()
}

// GetCallDetails loads the full aggregate for one call by internal id.
func (s *Store) GetCallDetails(ctx context.Context, callID string) (map[string]any, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT c.id, c.external_id, c.laundry_id, c.caller_number, c.called_number, c.direction, c.status,
			c.started_at, c.ended_at, c.duration_seconds, c.recording_url, c.transcript, c.event_type,
			c.created_at, c.updated_at,
			ca.id, ca.category, ca.priority, ca.sentiment, ca.summary, ca.keywords, ca.machine_id,
			ca.problem_type, ca.action_required, ca.action_type, ca.estimated_time, ca.model_version, ca.created_at
		FROM calls c
		LEFT JOIN call_analysis ca ON ca.call_id = c.id
		WHERE c.id = $1
	`, callID)

	var (
		c              models.Call
		aID            *string
		category       *string
		priority       *string
		sentiment      *string
		summary        *string
		keywords       []string
		machineID      *string
		problemType    *string
		actionRequired *bool
		actionType     *string
		estimatedTime  *string
		modelVersion   *string
		aCreated       *time.Time
	)
	if err := row.Scan(
		&c.ID, &c.ExternalID, &c.LaundryID, &c.CallerNumber, &c.CalledNumber, &c.Direction, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.RecordingURL, &c.Transcript, &c.EventType,
		&c.CreatedAt, &c.UpdatedAt,
		&aID, &category, &priority, &sentiment, &summary, &keywords, &machineID,
		&problemType, &actionRequired, &actionType, &estimatedTime, &modelVersion, &aCreated,
	); err != nil {
		return nil, err
	}

	result := map[string]any{"call": c}
	if aID != nil {
		result["analysis"] = map[string]any{
			"id":              *aID,
			"category":        derefString(category),
			"priority":        derefString(priority),
			"sentiment":       derefString(sentiment),
			"summary":         derefString(summary),
			"keywords":        keywords,
			"machine_id":      derefString(machineID),
			"problem_type":    derefString(problemType),
			"action_required": actionRequired != nil && *actionRequired,
			"action_type":     derefString(actionType),
			"estimated_time":  derefString(estimatedTime),
			"model_version":   derefString(modelVersion),
			"created_at":      aCreated,
		}
	}

	segments, err := s.listSegments(ctx, callID)
	if err != nil {
		return nil, err
	}
	result["segments"] = segments

	variables, err := s.listVariables(ctx, callID)
	if err != nil {
		return nil, err
	}
	result["variables"] = variables

	tools, err := s.listToolUsages(ctx, callID)
	if err != nil {
		return nil, err
	}
	result["tool_usages"] = tools

	if aID != nil {
		followUps, err := s.listFollowUpsForAnalysis(ctx, *aID)
		if err != nil {
			return nil, err
		}
		result["follow_ups"] = followUps
	}
	return result, nil
}

func (s *Store) listSegments(ctx context.Context, callID string) ([]models.CallSegment, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, call_id, task_name, intent FROM call_segments WHERE call_id = $1 ORDER BY id ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CallSegment{}
	for rows.Next() {
		var seg models.CallSegment
		if err := rows.Scan(&seg.ID, &seg.CallID, &seg.TaskName, &seg.Intent); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Store) listVariables(ctx context.Context, callID string) ([]models.CallVariable, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, call_id, name, value FROM call_variables WHERE call_id = $1 ORDER BY id ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CallVariable{}
	for rows.Next() {
		var v models.CallVariable
		if err := rows.Scan(&v.ID, &v.CallID, &v.Name, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) listToolUsages(ctx context.Context, callID string) ([]models.ToolUsage, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, call_id, name, parameters, result, success FROM tool_usages WHERE call_id = $1 ORDER BY id ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ToolUsage{}
	for rows.Next() {
		var t models.ToolUsage
		if err := rows.Scan(&t.ID, &t.CallID, &t.Name, &t.Parameters, &t.Result, &t.Success); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) listFollowUpsForAnalysis(ctx context.Context, analysisID string) ([]models.FollowUpAction, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, analysis_id, action_type, description, metadata, created_at FROM follow_up_actions WHERE analysis_id = $1 ORDER BY created_at ASC`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.FollowUpAction{}
	for rows.Next() {
		var f models.FollowUpAction
		if err := rows.Scan(&f.ID, &f.AnalysisID, &f.ActionType, &f.Description, &f.Metadata, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AnalyticsSummary aggregates call volumes for the dashboard charts.
func (s *Store) AnalyticsSummary(ctx context.Context) (map[string]any, error) {
	summary := map[string]any{}

	var totalCalls int
	var avgDuration *float64
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*), AVG(duration_seconds) FROM calls`).Scan(&totalCalls, &avgDuration); err != nil {
		return nil, err
	}
	summary["total_calls"] = totalCalls
	if avgDuration != nil {
		summary["avg_duration_seconds"] = *avgDuration
	} else {
		summary["avg_duration_seconds"] = 0.0
	}

	byCategory, err := s.countBy(ctx, `SELECT category, COUNT(*) FROM call_analysis GROUP BY category`)
	if err != nil {
		return nil, err
	}
	summary["by_category"] = byCategory

	byPriority, err := s.countBy(ctx, `SELECT priority, COUNT(*) FROM call_analysis GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	summary["by_priority"] = byPriority

	byStatus, err := s.countBy(ctx, `SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, err
	}
	summary["by_status"] = byStatus

	var escalations int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM follow_up_actions`).Scan(&escalations); err != nil {
		return nil, err
	}
	summary["escalations"] = escalations
	return summary, nil
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
