package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"realtime-service/internal/broker"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

// Publisher drains the outbox into the broker topic space. Safe to run with
// multiple replicas: the repository's skip-locked drain partitions the work.
type Publisher struct {
	repo         repositories.OutboxRepository
	broker       broker.Publisher
	log          *zap.SugaredLogger
	pollInterval time.Duration
	batchSize    int
}

// NewPublisher constructs a Publisher.
func NewPublisher(repo repositories.OutboxRepository, b broker.Publisher, log *zap.SugaredLogger, pollInterval time.Duration, batchSize int) *Publisher {
	return &Publisher{
		repo:         repo,
		broker:       b,
		log:          log,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run polls until ctx is done. A failed cycle is logged and never terminates
// the loop; the next poll retries the same rows.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := p.Cycle(ctx)
			if err != nil {
				observability.IncOutboxError()
				p.log.Errorw("outbox cycle failed", "err", err)
				continue
			}
			if count > 0 {
				p.log.Infow("published outbox events", "count", count)
			}
		}
	}
}

// Cycle runs a single drain pass and returns the number of events published.
func (p *Publisher) Cycle(ctx context.Context) (int, error) {
	count, err := p.repo.Drain(ctx, p.batchSize, func(event *models.OutboxEvent) error {
		meta := event.Meta()
		topic := broker.ResolveTopic(event.AggregateType, event.AggregateID, event.EventType, meta)
		envelope := models.EventEnvelope{
			EventID:   event.ID,
			Timestamp: event.CreatedAt,
			Type:      event.EventType,
			ServerID:  meta.ServerID,
			ChannelID: meta.ChannelID,
			UserID:    meta.UserID,
			Payload:   event.Payload,
		}
		return p.broker.Publish(ctx, topic, envelope)
	})
	if err == nil {
		observability.AddOutboxPublished(count)
	}
	return count, err
}
