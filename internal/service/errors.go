package service

import (
	"context"
	"errors"
	"fmt"

	"gitblog/internal/storage"
)

var (
	ErrNotFound   = errors.New("post not found")
	ErrIDRequired = errors.New("id is required")
	ErrValidation = errors.New("validation failed")
	// ErrUnsafeCleanup is returned when no post references any file while media files exist.
	ErrUnsafeCleanup = errors.New("referenced file set is empty while media files exist; cleanup aborted")
	// ErrCleanupAborted is returned when the referenced file set could not be collected reliably.
	ErrCleanupAborted = errors.New("failed to collect referenced file paths")
	ErrTimeout        = errors.New("operation timed out")
)

// PartialError is the failure of a single file inside an operation that carries on.
type PartialError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// normalize maps store and context failures onto service errors.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func postNotFound(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
