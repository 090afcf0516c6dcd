package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gitblog/internal/logging"
	"gitblog/internal/storage"
)

// InitReport lists what an initialization pass changed in the store.
type InitReport struct {
	Created   []string       `json:"created"`
	Updated   []string       `json:"updated"`
	Unchanged []string       `json:"unchanged"`
	Failed    []PartialError `json:"failed"`
}

// Initializer prepares the repository layout and syncs template files to the repository root.
type Initializer interface {
	Initialize(ctx context.Context) (*InitReport, error)
}

type initializer struct {
	store        storage.Store
	templatesDir string
	policy       storage.RetryPolicy
	log          logging.Logger
}

// NewInitializer constructs an Initializer. An empty templatesDir skips template sync.
func NewInitializer(store storage.Store, templatesDir string, policy storage.RetryPolicy, log logging.Logger) Initializer {
	if log == nil {
		log = logging.Nop()
	}
	return &initializer{store: store, templatesDir: templatesDir, policy: policy, log: log}
}

func (in *initializer) Initialize(ctx context.Context) (*InitReport, error) {
	rep := &InitReport{}
	for _, dir := range []string{PostsDir, ImagesDir, ContentDir} {
		p := dir + "/" + keepFile
		_, err := in.store.Put(ctx, p, []byte{}, "Create "+dir+" directory", "")
		switch {
		case err == nil:
			in.log.Info(ctx, "directory created", "dir", dir)
			rep.Created = append(rep.Created, p)
		case errors.Is(err, storage.ErrConflict):
			rep.Unchanged = append(rep.Unchanged, p)
		default:
			if ctx.Err() != nil {
				return rep, normalize(ctx.Err())
			}
			in.log.Error(ctx, "failed to create directory", "dir", dir, "error", err)
			rep.Failed = append(rep.Failed, PartialError{File: p, Error: err.Error()})
		}
	}

	if in.templatesDir == "" {
		return rep, nil
	}
	entries, err := os.ReadDir(in.templatesDir)
	if err != nil {
		return rep, fmt.Errorf("read templates: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := in.syncTemplate(ctx, e.Name(), rep); err != nil {
			if ctx.Err() != nil {
				return rep, normalize(ctx.Err())
			}
			in.log.Error(ctx, "failed to sync template", "file", e.Name(), "error", err)
			rep.Failed = append(rep.Failed, PartialError{File: e.Name(), Error: err.Error()})
		}
	}
	in.log.Info(ctx, "initialization completed",
		"created", len(rep.Created), "updated", len(rep.Updated), "failed", len(rep.Failed))
	return rep, nil
}

// syncTemplate writes a template to the repository root unless the stored copy already matches.
func (in *initializer) syncTemplate(ctx context.Context, name string, rep *InitReport) error {
	want, err := os.ReadFile(filepath.Join(in.templatesDir, name))
	if err != nil {
		return err
	}
	policy := in.policy
	policy.OnRetry = func(attempt int, err error) {
		in.log.Warn(ctx, "template SHA mismatch, retrying", "file", name, "attempt", attempt, "max_attempts", policy.Attempts)
	}

	var outcome *[]string
	err = storage.UpdateWithRetry(ctx, in.store, name, policy, func(current []byte, exists bool) ([]byte, string, error) {
		switch {
		case exists && bytes.Equal(current, want):
			outcome = &rep.Unchanged
			return nil, "", nil
		case exists:
			outcome = &rep.Updated
			return want, "Update " + name, nil
		default:
			outcome = &rep.Created
			return want, "Create " + name, nil
		}
	})
	if err != nil {
		return err
	}
	*outcome = append(*outcome, name)
	return nil
}
