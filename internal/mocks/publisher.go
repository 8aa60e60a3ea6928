package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, topic string, event any) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

// RecordingPublisher captures everything published, for assertions on topic
// routing without mock expectations.
type RecordingPublisher struct {
	mu     sync.Mutex
	Topics []string
	Events []any
}

func (p *RecordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Topics = append(p.Topics, topic)
	p.Events = append(p.Events, event)
	return nil
}
