package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"

	"github.com/codeready-toolchain/deepreport/pkg/database"
)

// StoredEvent is one row of the events table.
type StoredEvent struct {
	ID        int64
	SessionID string
	Channel   string
	Payload   map[string]any
	CreatedAt time.Time
}

// EventService reads and prunes persisted SSE events. Events are written by
// events.EventPublisher inside its NOTIFY transaction.
type EventService struct {
	db *database.Client
}

// NewEventService creates a new EventService
func NewEventService(db *database.Client) *EventService {
	return &EventService{db: db}
}

// CreateEvent stores an event without broadcasting it.
func (s *EventService) CreateEvent(httpCtx context.Context, sessionID, channel string, payload map[string]any) (*StoredEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := &StoredEvent{SessionID: sessionID, Channel: channel, Payload: payload, CreatedAt: time.Now()}
	rows, err := s.db.Query(ctx, database.Builder().
		Insert("events").
		Columns("session_id", "channel", "payload", "created_at").
		Values(sessionID, channel, string(data), evt.CreatedAt).
		Returning("id"))
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("failed to create event: no id returned")
	}
	if err := rows.Scan(&evt.ID); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return evt, nil
}

// GetEventsSince returns up to limit events of a channel with id > sinceID,
// oldest first. A limit <= 0 returns all of them.
func (s *EventService) GetEventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]StoredEvent, error) {
	q := database.Builder().
		Select("id", "session_id", "channel", "payload", "created_at").
		From(sql.Table("events")).
		Where(sql.And(sql.EQ("channel", channel), sql.GT("id", sinceID))).
		OrderBy("id")
	if limit > 0 {
		q.Limit(limit)
	}
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			evt  StoredEvent
			data []byte
		)
		if err := rows.Scan(&evt.ID, &evt.SessionID, &evt.Channel, &data, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(data, &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", evt.ID, err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return out, nil
}

// CleanupSessionEvents removes all events for a session
func (s *EventService) CleanupSessionEvents(_ context.Context, sessionID string) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := s.db.Exec(writeCtx, database.Builder().
		Delete("events").
		Where(sql.EQ("session_id", sessionID)))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup session events: %w", err)
	}
	return int(n), nil
}

// DeleteEventsBefore removes events created before cutoff.
func (s *EventService) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.db.Exec(writeCtx, database.Builder().
		Delete("events").
		Where(sql.LT("created_at", cutoff)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return int(n), nil
}
