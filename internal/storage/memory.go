package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

type memFile struct {
	content []byte
	sha     string
}

// MemoryStore is an in-process Store for local development and tests.
// Versions are BLAKE3 digests of the content, so rewriting identical bytes keeps the SHA, as in git.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string]memFile
	baseURL string
	commits []string
}

// NewMemory returns an empty store whose durable URLs start with baseURL.
func NewMemory(baseURL string) *MemoryStore {
	return &MemoryStore{
		files:   make(map[string]memFile),
		baseURL: strings.TrimRight(baseURL, "/") + "/",
	}
}

func contentSHA(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (m *MemoryStore) Get(ctx context.Context, p string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = CleanPath(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	return &File{Path: p, SHA: f.sha, Content: append([]byte(nil), f.content...)}, nil
}

func (m *MemoryStore) Put(ctx context.Context, p string, content []byte, message, sha string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p = CleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.files[p]
	switch {
	case sha == "" && exists:
		return "", fmt.Errorf("put %s: %w: file exists and no sha was supplied", p, ErrConflict)
	case sha != "" && !exists:
		return "", fmt.Errorf("put %s: %w: file does not exist", p, ErrConflict)
	case sha != "" && cur.sha != sha:
		return "", fmt.Errorf("put %s: %w: sha does not match", p, ErrConflict)
	}
	f := memFile{content: append([]byte(nil), content...), sha: contentSHA(content)}
	m.files[p] = f
	m.commits = append(m.commits, message)
	return f.sha, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p, sha, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = CleanPath(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.files[p]
	if !exists {
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	}
	if cur.sha != sha {
		return fmt.Errorf("delete %s: %w: sha does not match", p, ErrConflict)
	}
	delete(m.files, p)
	m.commits = append(m.commits, message)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = CleanPath(dir)
	prefix := dir + "/"
	if dir == "" {
		prefix = ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]Entry)
	for p, f := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if nested {
			seen[name] = Entry{Path: prefix + name, Name: name, Type: EntryDir}
			continue
		}
		seen[name] = Entry{Path: p, Name: name, SHA: f.sha, Type: EntryFile, Size: int64(len(f.content))}
	}
	if len(seen) == 0 {
		if _, isFile := m.files[dir]; isFile {
			return nil, fmt.Errorf("list %s: path is not a directory", dir)
		}
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	entries := make([]Entry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *MemoryStore) URL(p string) string {
	return m.baseURL + EscapePath(p)
}

func (m *MemoryStore) PathFromURL(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, m.baseURL) {
		return "", false
	}
	p := unescapePath(strings.TrimPrefix(rawURL, m.baseURL))
	return p, p != ""
}

// Paths returns every stored path in lexical order.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Commits returns the commit messages of every successful write, oldest first.
func (m *MemoryStore) Commits() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.commits...)
}
