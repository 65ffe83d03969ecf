package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// maxNotifyPayload keeps NOTIFY payloads under PostgreSQL's 8000-byte limit.
const maxNotifyPayload = 7900

// EventPublisher writes events to the session's NOTIFY channel. Durable
// events go to the events table first so late subscribers can replay them;
// chunks and heartbeats are only broadcast.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher takes the pool from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishAgentEvent sends one agent telemetry step. Chunk steps are not stored.
func (p *EventPublisher) PublishAgentEvent(ctx context.Context, sessionID string, payload AgentEventPayload) error {
	return p.publish(ctx, sessionID, payload, payload.EventType != AgentEventChunk)
}

// PublishReportEvent sends one step of a report run.
func (p *EventPublisher) PublishReportEvent(ctx context.Context, sessionID string, payload ReportEvent) error {
	return p.publish(ctx, sessionID, payload, payload.Persistent())
}

func (p *EventPublisher) publish(ctx context.Context, sessionID string, payload any, durable bool) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %T: %w", payload, err)
	}
	channel := SessionChannel(sessionID)

	if !durable {
		msg, err := truncateIfNeeded(raw)
		if err != nil {
			return err
		}
		return notify(ctx, p.db, channel, msg)
	}

	// pg_notify inside the transaction is delivered on COMMIT, after the row
	// is visible to catch-up queries.
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, raw, time.Now(),
	).Scan(&id); err != nil {
		return fmt.Errorf("store event: %w", err)
	}

	msg, err := injectDBEventIDAndTruncate(raw, id)
	if err != nil {
		return err
	}
	if err := notify(ctx, tx, channel, msg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event %d: %w", id, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func notify(ctx context.Context, db execer, channel, msg string) error {
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, msg); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

// injectDBEventIDAndTruncate adds db_event_id so subscribers can resume
// from the table after a reconnect.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(enriched)
}

// truncateIfNeeded replaces an oversized payload with an envelope carrying
// only the routing fields. Clients fetch the full event from the table.
func truncateIfNeeded(payload []byte) (string, error) {
	if len(payload) <= maxNotifyPayload {
		return string(payload), nil
	}

	var routing struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		ReportID  string `json:"report_id"`
		AgentID   string `json:"agent_id"`
		EventType string `json:"event_type"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payload, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	envelope := map[string]any{
		"type":      routing.Type,
		"truncated": true,
	}
	for k, v := range map[string]string{
		"session_id": routing.SessionID,
		"report_id":  routing.ReportID,
		"agent_id":   routing.AgentID,
		"event_type": routing.EventType,
	} {
		if v != "" {
			envelope[k] = v
		}
	}
	if routing.DBEventID != nil {
		envelope["db_event_id"] = *routing.DBEventID
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(out), nil
}
