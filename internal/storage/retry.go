package storage

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds conflict retries for small shared files (index, templates).
type RetryPolicy struct {
	Attempts int
	// Backoff is multiplied by the attempt number before each retry.
	Backoff time.Duration
	// OnRetry, if set, is called before sleeping.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy retries three times in total with 1s, 2s waits.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: time.Second}

// Mutation receives the current content (nil when the file does not exist) and returns the
// content to write with its commit message. A nil next leaves the file untouched.
type Mutation func(current []byte, exists bool) (next []byte, message string, err error)

// UpdateWithRetry reads path, applies mutate and writes the result with the SHA it read.
// On ErrConflict it re-reads and tries again, up to policy.Attempts.
func UpdateWithRetry(ctx context.Context, s Store, path string, policy RetryPolicy, mutate Mutation) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := updateOnce(ctx, s, path, mutate)
		if err == nil || !errors.Is(err, ErrConflict) || attempt >= attempts {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}
		t := time.NewTimer(policy.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func updateOnce(ctx context.Context, s Store, path string, mutate Mutation) error {
	var (
		current []byte
		sha     string
		exists  bool
	)
	f, err := s.Get(ctx, path)
	switch {
	case err == nil:
		current, sha, exists = f.Content, f.SHA, true
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}

	next, message, err := mutate(current, exists)
	if err != nil || next == nil {
		return err
	}
	_, err = s.Put(ctx, path, next, message, sha)
	return err
}
