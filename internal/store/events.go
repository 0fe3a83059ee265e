package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/restoku/backend-resto/internal/events"
)

// Events persists domain events backed by pgx.
type Events struct {
	Pool *pgxpool.Pool
}

// InsertDomainEvent appends one event to the domain_events table.
func (s Events) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	row := s.Pool.QueryRow(ctx, `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`,
		topic, aggregateID, payload,
	)
	var ev events.Event
	if err := row.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
