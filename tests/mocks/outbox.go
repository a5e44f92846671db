package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
)

// MockOutboxRepository simula el lado del relay de la outbox.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) FindPending(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]sharedDomain.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxMessage, error) {
	args := m.Called(ctx, limit, lease)
	return args.Get(0).([]sharedDomain.OutboxMessage), args.Error(1)
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, retryAt time.Time) error {
	args := m.Called(ctx, id, retryAt)
	return args.Error(0)
}

func (m *MockOutboxRepository) Stats(ctx context.Context) (sharedDomain.OutboxStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(sharedDomain.OutboxStats), args.Error(1)
}

// MockDispatcher simula el envío al broker. Con Ack configurado, invoca done con ese resultado.
type MockDispatcher struct {
	mock.Mock
	Ack error
}

func (m *MockDispatcher) Dispatch(ctx context.Context, topic string, msg sharedDomain.OutboxMessage, done func(error)) error {
	args := m.Called(ctx, topic, msg)
	if err := args.Error(0); err != nil {
		return err
	}
	done(m.Ack)
	return nil
}

var _ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)
