package mocks

import (
	"context"

	"gitblog/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(ctx context.Context, path string) (*storage.File, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.File), args.Error(1)
}

func (m *MockStorage) Put(ctx context.Context, path string, content []byte, message, sha string) (string, error) {
	args := m.Called(ctx, path, content, message, sha)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, path, sha, message string) error {
	args := m.Called(ctx, path, sha, message)
	return args.Error(0)
}

func (m *MockStorage) List(ctx context.Context, dir string) ([]storage.Entry, error) {
	args := m.Called(ctx, dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.Entry), args.Error(1)
}

// URL and PathFromURL are pure, so tests need no expectations for them.
func (m *MockStorage) URL(path string) string {
	return "mock://repo/" + path
}

func (m *MockStorage) PathFromURL(rawURL string) (string, bool) {
	const prefix = "mock://repo/"
	if len(rawURL) <= len(prefix) || rawURL[:len(prefix)] != prefix {
		return "", false
	}
	return rawURL[len(prefix):], true
}
