package mocks

import (
	"context"

	"gitblog/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockCleaner struct {
	mock.Mock
}

func (m *MockCleaner) CleanOrphanedFiles(ctx context.Context, opts service.CleanupOptions) (*service.CleanupResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CleanupResult), args.Error(1)
}
