// Package storage contains the remote content store abstraction. The store is the
// sole source of truth: posts, the index and media are files addressed by path, and
// every write carries the version (SHA) the writer last read.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNotFound is returned when the path does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the supplied SHA is stale, or a create hits an existing file.
	ErrConflict = errors.New("conflict")
)

// File is a file read from the store together with its current version.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// EntryType distinguishes files from directories in a listing.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is one item of a directory listing.
type Entry struct {
	Path string
	Name string
	SHA  string
	Type EntryType
	Size int64
}

// Store is a per-file content store with optimistic concurrency.
type Store interface {
	// Get returns the file content and its SHA. Fails with ErrNotFound if absent.
	Get(ctx context.Context, path string) (*File, error)
	// Put creates the file when sha is empty, otherwise updates it. Returns the new SHA.
	// Fails with ErrConflict if sha is stale or if a create finds an existing file.
	Put(ctx context.Context, path string, content []byte, message, sha string) (string, error)
	// Delete removes the file at the given version. ErrNotFound if absent, ErrConflict if sha is stale.
	Delete(ctx context.Context, path, sha, message string) error
	// List returns the direct children of dir. ErrNotFound if dir does not exist.
	List(ctx context.Context, dir string) ([]Entry, error)
	// URL returns the durable address of path.
	URL(path string) string
	// PathFromURL recovers the store path from a durable address produced by URL.
	PathFromURL(rawURL string) (string, bool)
}

// ListFiles walks dir recursively and returns the paths of every file below it.
// A missing dir yields an empty result.
func ListFiles(ctx context.Context, s Store, dir string) ([]string, error) {
	entries, err := s.List(ctx, dir)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		switch e.Type {
		case EntryFile:
			files = append(files, e.Path)
		case EntryDir:
			sub, err := ListFiles(ctx, s, e.Path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// DeleteFile reads the current SHA of path and deletes it.
func DeleteFile(ctx context.Context, s Store, path, message string) error {
	f, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	return s.Delete(ctx, path, f.SHA, message)
}

// CleanPath normalizes a store path: forward slashes, no leading or trailing slash.
func CleanPath(p string) string {
	return strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
}

// EscapePath percent-encodes every segment of p, so the result is safe inside a URL and
// inside a quoted markup attribute.
func EscapePath(p string) string {
	segments := strings.Split(CleanPath(p), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// unescapePath reverses EscapePath. Addresses written before escaping was introduced
// are returned as they are.
func unescapePath(p string) string {
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	return CleanPath(p)
}
