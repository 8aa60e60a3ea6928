package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
)

// fakeOutbox is an in-memory stand-in for the sqlx repository with the same
// drain contract: events are handed to publish in id order and only marked
// published when the whole batch succeeds.
type fakeOutbox struct {
	events []models.OutboxEvent
}

func (f *fakeOutbox) Append(ctx context.Context, tx sqlx.ExtContext, event *models.OutboxEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeOutbox) Drain(ctx context.Context, limit int, publish func(event *models.OutboxEvent) error) (int, error) {
	var published []int64
	for i := range f.events {
		if f.events[i].PublishedAt != nil {
			continue
		}
		if len(published) == limit {
			break
		}
		if err := publish(&f.events[i]); err != nil {
			return 0, err
		}
		published = append(published, f.events[i].ID)
	}
	now := time.Now()
	for i := range f.events {
		for _, id := range published {
			if f.events[i].ID == id {
				f.events[i].PublishedAt = &now
			}
		}
	}
	return len(published), nil
}

func (f *fakeOutbox) unpublished() int {
	n := 0
	for i := range f.events {
		if f.events[i].PublishedAt == nil {
			n++
		}
	}
	return n
}

func event(id int64, aggregateType, aggregateID, eventType string, meta models.EventMeta) models.OutboxEvent {
	payload, _ := json.Marshal(meta)
	return models.OutboxEvent{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

func TestCyclePublishesToResolvedTopics(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{
		event(1, "channel", "7", models.EventMessageCreate, models.EventMeta{ServerID: "10", ChannelID: "7"}),
		event(2, "server", "10", models.EventPresenceUpdate, models.EventMeta{ServerID: "10", UserID: "42"}),
		event(3, "user", "42", "FRIEND_REQUEST", models.EventMeta{UserID: "42"}),
	}}
	pub := &mocks.RecordingPublisher{}
	p := NewPublisher(repo, pub, zap.NewNop().Sugar(), 100*time.Millisecond, 50)

	count, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{
		"srv.10.chan.7.events",
		"srv.10.presence",
		"user.42.events",
	}, pub.Topics)
	assert.Zero(t, repo.unpublished())

	env := pub.Events[0].(models.EventEnvelope)
	assert.Equal(t, int64(1), env.EventID)
	assert.Equal(t, models.EventMessageCreate, env.Type)
	assert.Equal(t, "10", env.ServerID)
	assert.Equal(t, "7", env.ChannelID)
}

func TestCycleSecondPassIsEmpty(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{
		event(1, "channel", "7", models.EventMessageCreate, models.EventMeta{ServerID: "10", ChannelID: "7"}),
	}}
	p := NewPublisher(repo, &mocks.RecordingPublisher{}, zap.NewNop().Sugar(), 100*time.Millisecond, 50)

	count, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "published events must not be delivered twice by the drain")
}

func TestCyclePublishFailureLeavesBatchUnpublished(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{
		event(1, "channel", "7", models.EventMessageCreate, models.EventMeta{ServerID: "10", ChannelID: "7"}),
		event(2, "channel", "7", models.EventMessageCreate, models.EventMeta{ServerID: "10", ChannelID: "7"}),
	}}
	failing := new(mocks.PublisherMock)
	failing.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	p := NewPublisher(repo, failing, zap.NewNop().Sugar(), 100*time.Millisecond, 50)

	_, err := p.Cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, repo.unpublished(), "a failed batch stays eligible for the next cycle")
}

func TestCycleRespectsBatchSize(t *testing.T) {
	repo := &fakeOutbox{}
	for i := int64(1); i <= 5; i++ {
		repo.events = append(repo.events,
			event(i, "channel", "7", models.EventMessageCreate, models.EventMeta{ServerID: "10", ChannelID: "7"}))
	}
	p := NewPublisher(repo, &mocks.RecordingPublisher{}, zap.NewNop().Sugar(), 100*time.Millisecond, 2)

	count, err := p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 3, repo.unpublished())
}
