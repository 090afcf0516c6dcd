package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gitblog/internal/logging"
	"gitblog/internal/model"
	"gitblog/internal/storage"
)

// IndexMaintainer keeps posts/meta.json in step with the post files.
type IndexMaintainer interface {
	// Read returns the current manifest; a missing manifest is empty.
	Read(ctx context.Context) (*model.Meta, error)
	// Add lists filename, retrying on conflicting writes.
	Add(ctx context.Context, filename string) error
	// Remove drops filename, retrying on conflicting writes.
	Remove(ctx context.Context, filename string) error
}

type indexMaintainer struct {
	store  storage.Store
	policy storage.RetryPolicy
	log    logging.Logger
}

// NewIndexMaintainer constructs an IndexMaintainer writing through store.
func NewIndexMaintainer(store storage.Store, policy storage.RetryPolicy, log logging.Logger) IndexMaintainer {
	if log == nil {
		log = logging.Nop()
	}
	return &indexMaintainer{store: store, policy: policy, log: log}
}

func parseMeta(b []byte) (*model.Meta, error) {
	meta := &model.Meta{}
	if len(b) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(b, meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaPath, err)
	}
	return meta, nil
}

func (m *indexMaintainer) Read(ctx context.Context) (*model.Meta, error) {
	f, err := m.store.Get(ctx, MetaPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &model.Meta{Posts: []string{}}, nil
		}
		return nil, err
	}
	return parseMeta(f.Content)
}

func (m *indexMaintainer) Add(ctx context.Context, filename string) error {
	return m.update(ctx, func(meta *model.Meta) bool { return meta.Add(filename) })
}

func (m *indexMaintainer) Remove(ctx context.Context, filename string) error {
	return m.update(ctx, func(meta *model.Meta) bool { return meta.Remove(filename) })
}

func (m *indexMaintainer) update(ctx context.Context, change func(*model.Meta) bool) error {
	policy := m.policy
	policy.OnRetry = func(attempt int, err error) {
		m.log.Warn(ctx, "index write conflicted, retrying", "attempt", attempt, "max_attempts", policy.Attempts, "error", err)
	}
	return storage.UpdateWithRetry(ctx, m.store, MetaPath, policy, func(current []byte, exists bool) ([]byte, string, error) {
		meta, err := parseMeta(current)
		if err != nil {
			return nil, "", err
		}
		if !change(meta) && exists {
			return nil, "", nil
		}
		if meta.Posts == nil {
			meta.Posts = []string{}
		}
		b, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return b, "Update meta.json", nil
	})
}
