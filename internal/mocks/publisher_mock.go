package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of fanout.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	args := m.Called(ctx, channel, event, payload)
	return args.Error(0)
}

func (m *MockPublisher) Backend() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
