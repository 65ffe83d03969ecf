package events

import (
	"context"

	"github.com/codeready-toolchain/deepreport/pkg/services"
)

// EventServiceAdapter wraps services.EventService to implement CatchupQuerier.
type EventServiceAdapter struct {
	eventService *services.EventService
}

// NewEventServiceAdapter creates a CatchupQuerier from an EventService.
func NewEventServiceAdapter(es *services.EventService) *EventServiceAdapter {
	return &EventServiceAdapter{eventService: es}
}

// GetCatchupEvents returns stored events with id > sinceID, oldest first.
func (a *EventServiceAdapter) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	stored, err := a.eventService.GetEventsSince(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(stored))
	for i, evt := range stored {
		result[i] = CatchupEvent{ID: evt.ID, Payload: evt.Payload}
	}
	return result, nil
}
