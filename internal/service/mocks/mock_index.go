package mocks

import (
	"context"

	"gitblog/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockIndexMaintainer struct {
	mock.Mock
}

func (m *MockIndexMaintainer) Read(ctx context.Context) (*model.Meta, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Meta), args.Error(1)
}

func (m *MockIndexMaintainer) Add(ctx context.Context, filename string) error {
	return m.Called(ctx, filename).Error(0)
}

func (m *MockIndexMaintainer) Remove(ctx context.Context, filename string) error {
	return m.Called(ctx, filename).Error(0)
}
