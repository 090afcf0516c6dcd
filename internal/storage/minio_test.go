package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitblog/internal/config"
)

func TestNewMinIO_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MinIOConfig
	}{
		{name: "no endpoint", cfg: config.MinIOConfig{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{name: "no credentials", cfg: config.MinIOConfig{Endpoint: "localhost:9000", Bucket: "b"}},
		{name: "no bucket", cfg: config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMinIO(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestMinIOStorage_URLRoundTrip(t *testing.T) {
	m := &minioStorage{bucket: "blog", baseURL: "http://localhost:9000/blog/"}

	u := m.URL("content/a.png")
	assert.Equal(t, "http://localhost:9000/blog/content/a.png", u)

	p, ok := m.PathFromURL(u)
	assert.True(t, ok)
	assert.Equal(t, "content/a.png", p)

	_, ok = m.PathFromURL("https://elsewhere.example.com/blog/content/a.png")
	assert.False(t, ok)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeFor("posts/p1.json"))
	assert.Equal(t, "image/jpeg", contentTypeFor("images/x.JPG"))
	assert.Equal(t, "video/mp4", contentTypeFor("content/v.mp4"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("README"))
}

// fakeS3 serves HEAD and PUT for a single object, failing PUTs whose If-Match does not
// carry the current ETag.
type fakeS3 struct {
	mu        sync.Mutex
	etag      string
	ifMatch   []string
	accepted  int
	beforePut func()
}

func newFakeS3(t *testing.T, etag string) (*fakeS3, *minioStorage) {
	t.Helper()
	f := &fakeS3{etag: etag}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("ETag", `"`+f.etag+`"`)
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.Header().Set("Content-Length", "2")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			if f.beforePut != nil {
				f.beforePut()
			}
			match := r.Header.Get("If-Match")
			f.ifMatch = append(f.ifMatch, match)
			if match != "" && match != `"`+f.etag+`"` {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			f.accepted++
			f.etag = fmt.Sprintf("v%d", f.accepted)
			w.Header().Set("ETag", `"`+f.etag+`"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return f, &minioStorage{client: client, bucket: "blog", baseURL: srv.URL + "/blog/"}
}

func TestMinIOStorage_PutSendsIfMatch(t *testing.T) {
	f, s := newFakeS3(t, "s1")

	etag, err := s.Put(context.Background(), "posts/p1.json", []byte("{}"), "Update post", "s1")
	require.NoError(t, err)
	assert.Equal(t, "v1", etag)
	assert.Equal(t, []string{`"s1"`}, f.ifMatch)
}

func TestMinIOStorage_PutLosesRaceWithConflict(t *testing.T) {
	f, s := newFakeS3(t, "s1")

	// Another writer replaces the object between our stat and our write.
	f.beforePut = func() { f.etag = "other" }

	_, err := s.Put(context.Background(), "posts/p1.json", []byte("{}"), "Update post", "s1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []string{`"s1"`}, f.ifMatch)
	assert.Zero(t, f.accepted)
}

func TestMinIOStorage_PutStaleVersion(t *testing.T) {
	f, s := newFakeS3(t, "s2")

	_, err := s.Put(context.Background(), "posts/p1.json", []byte("{}"), "Update post", "s1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.ifMatch)
}
