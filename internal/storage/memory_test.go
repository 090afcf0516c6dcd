package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("memory://blog")

	sha1, err := s.Put(ctx, "posts/a.json", []byte("v1"), "create", "")
	require.NoError(t, err)

	_, err = s.Put(ctx, "posts/a.json", []byte("v2"), "create again", "")
	assert.ErrorIs(t, err, ErrConflict)

	sha2, err := s.Put(ctx, "posts/a.json", []byte("v2"), "update", sha1)
	require.NoError(t, err)
	assert.NotEqual(t, sha1, sha2)

	_, err = s.Put(ctx, "posts/a.json", []byte("v3"), "stale update", sha1)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Put(ctx, "posts/missing.json", []byte("v1"), "update missing", sha1)
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, s.Delete(ctx, "posts/a.json", sha1, "delete stale"), ErrConflict)
	require.NoError(t, s.Delete(ctx, "posts/a.json", sha2, "delete"))
	assert.ErrorIs(t, s.Delete(ctx, "posts/a.json", sha2, "delete"), ErrNotFound)

	_, err = s.Get(ctx, "posts/a.json")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"create", "update", "delete"}, s.Commits())
}

func TestMemoryStore_SameContentSameSHA(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("memory://blog")

	a, err := s.Put(ctx, "a", []byte("same"), "m", "")
	require.NoError(t, err)
	b, err := s.Put(ctx, "b", []byte("same"), "m", "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("memory://blog/")
	for _, p := range []string{"content/a.png", "content/nested/b.png", "content/nested/deeper/c.png", "images/x.jpg"} {
		_, err := s.Put(ctx, p, []byte(p), "seed", "")
		require.NoError(t, err)
	}

	entries, err := s.List(ctx, "content")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "content/a.png", entries[0].Path)
	assert.Equal(t, EntryFile, entries[0].Type)
	assert.Equal(t, "content/nested", entries[1].Path)
	assert.Equal(t, EntryDir, entries[1].Type)

	files, err := ListFiles(ctx, s, "content")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"content/a.png", "content/nested/b.png", "content/nested/deeper/c.png"}, files)

	_, err = s.List(ctx, "videos")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.List(ctx, "images/x.jpg")
	assert.ErrorContains(t, err, "not a directory")
}

func TestMemoryStore_URL(t *testing.T) {
	s := NewMemory("memory://blog")

	u := s.URL("/content/a.png")
	assert.Equal(t, "memory://blog/content/a.png", u)

	p, ok := s.PathFromURL(u)
	assert.True(t, ok)
	assert.Equal(t, "content/a.png", p)

	_, ok = s.PathFromURL("https://elsewhere/content/a.png")
	assert.False(t, ok)
	_, ok = s.PathFromURL("memory://blog/")
	assert.False(t, ok)
}

func TestMemoryStore_URLEscapesNames(t *testing.T) {
	s := NewMemory("memory://blog")

	tests := []struct {
		path string
		want string
	}{
		{path: "content/john's.png", want: "memory://blog/content/john%27s.png"},
		{path: `content/say "hi".png`, want: "memory://blog/content/say%20%22hi%22.png"},
		{path: "content/a<b>.png", want: "memory://blog/content/a%3Cb%3E.png"},
		{path: "content/100%.png", want: "memory://blog/content/100%25.png"},
	}
	for _, tt := range tests {
		u := s.URL(tt.path)
		assert.Equal(t, tt.want, u)
		assert.NotContains(t, u, `'`)
		assert.NotContains(t, u, `"`)

		p, ok := s.PathFromURL(u)
		assert.True(t, ok)
		assert.Equal(t, tt.path, p)
	}

	// addresses stored before names were escaped still resolve
	p, ok := s.PathFromURL("memory://blog/content/100%.png")
	assert.True(t, ok)
	assert.Equal(t, "content/100%.png", p)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory("memory://blog")

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("memory://blog")
	_, err := s.Put(ctx, "images/a.png", []byte("a"), "seed", "")
	require.NoError(t, err)

	require.NoError(t, DeleteFile(ctx, s, "images/a.png", "Delete file"))
	assert.Empty(t, s.Paths())
	assert.ErrorIs(t, DeleteFile(ctx, s, "images/a.png", "Delete file"), ErrNotFound)
}
