package mocks

import (
	"context"

	"github.com/99scratch/WALKOFF/pkg/wire"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock of the dispatcher side of wire.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) SendExecute(ctx context.Context, workerID string, request wire.ExecuteWorkflow) error {
	args := m.Called(ctx, workerID, request)

	return args.Error(0)
}

func (m *MockTransport) SendControl(ctx context.Context, workerID string, control wire.Control) error {
	args := m.Called(ctx, workerID, control)

	return args.Error(0)
}

func (m *MockTransport) PublishResult(ctx context.Context, result wire.ResultEvent) error {
	args := m.Called(ctx, result)

	return args.Error(0)
}
