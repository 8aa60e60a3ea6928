package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-service/internal/models"
)

// OutboxAppender records an event inside a caller-owned transaction. If the
// transaction rolls back, the event never existed.
type OutboxAppender interface {
	Append(ctx context.Context, tx sqlx.ExtContext, event *models.OutboxEvent) error
}

// OutboxRepository is the durable event store drained by the publisher.
type OutboxRepository interface {
	OutboxAppender
	Drain(ctx context.Context, limit int, publish func(event *models.OutboxEvent) error) (int, error)
}

// OutboxRepo is a sqlx-backed repository.
type OutboxRepo struct {
	db *sqlx.DB
}

// NewOutboxRepo constructs OutboxRepo.
func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Append inserts an unpublished event. It must run inside the same transaction
// as the domain mutation it announces.
func (r *OutboxRepo) Append(ctx context.Context, tx sqlx.ExtContext, event *models.OutboxEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload)
         VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, []byte(event.Payload))
	return err
}

// Drain claims up to limit unpublished rows with a skip-locked read, publishes
// each in id order and marks the batch published in the same transaction.
// Concurrent drains never claim the same row; a publish failure rolls the batch
// back so the same rows are retried next cycle (at-least-once delivery).
func (r *OutboxRepo) Drain(ctx context.Context, limit int, publish func(event *models.OutboxEvent) error) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var events []models.OutboxEvent
	err = tx.SelectContext(ctx, &events,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, published_at, retry_count
         FROM outbox_events
         WHERE published_at IS NULL
         ORDER BY id ASC
         LIMIT $1
         FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("select unpublished: %w", err)
	}
	if len(events) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]int64, 0, len(events))
	for i := range events {
		if err := publish(&events[i]); err != nil {
			_ = tx.Rollback() // release row locks before recording the attempt
			r.bumpRetry(ctx, events[i].ID)
			return 0, fmt.Errorf("publish event %d: %w", events[i].ID, err)
		}
		ids = append(ids, events[i].ID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(ids), nil
}

// bumpRetry records a failed attempt outside the rolled-back transaction. The
// count is informational and never stops redelivery.
func (r *OutboxRepo) bumpRetry(ctx context.Context, id int64) {
	_, _ = r.db.ExecContext(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1 WHERE id = $1`, id)
}
