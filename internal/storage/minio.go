package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gitblog/internal/config"
)

// minioStorage implements Store on an S3-compatible bucket (MinIO, AWS S3, etc.).
// ETags stand in for SHAs.
type minioStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinIO creates a new S3-compatible store backed by MinIO.
// It validates connectivity and ensures the bucket exists (creates it if missing).
//
// Version checks on updates are enforced by the server through If-Match. Creates and
// deletes are checked with a stat before the request, so two racing creators of the
// same key, or a delete racing an update, resolve last-write-wins.
func NewMinIO(cfg config.MinIOConfig) (Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ms := &minioStorage{
		client:  cli,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cli.EndpointURL().String(), "/") + "/" + cfg.Bucket + "/",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Ensure bucket exists.
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return ms, nil
}

func isPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// stat returns the current ETag of key, or "" when the object does not exist.
func (m *minioStorage) stat(ctx context.Context, key string) (string, error) {
	st, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return "", nil
		}
		return "", err
	}
	return st.ETag, nil
}

func (m *minioStorage) Get(ctx context.Context, p string) (*File, error) {
	key := CleanPath(p)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	st, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("get %s: read: %w", key, err)
	}
	return &File{Path: key, SHA: st.ETag, Content: content}, nil
}

// Put uploads an object using streaming I/O only (no local disk). Updates send the
// expected ETag as If-Match, so a concurrent writer fails with ErrConflict.
func (m *minioStorage) Put(ctx context.Context, p string, content []byte, message, sha string) (string, error) {
	key := CleanPath(p)
	cur, err := m.stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	if cur != sha {
		return "", fmt.Errorf("put %s: %w: have %q, want %q", key, ErrConflict, sha, cur)
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentTypeFor(key),
		UserMetadata: map[string]string{"commit-message": message},
	}
	if sha != "" {
		opts.SetMatchETag(sha)
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("put %s: %w", key, ErrConflict)
		}
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return info.ETag, nil
}

func (m *minioStorage) Delete(ctx context.Context, p, sha, message string) error {
	key := CleanPath(p)
	cur, err := m.stat(ctx, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if cur == "" {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	if cur != sha {
		return fmt.Errorf("delete %s: %w", key, ErrConflict)
	}
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *minioStorage) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := CleanPath(dir)
	if prefix != "" {
		prefix += "/"
	}
	var entries []Entry
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			p := strings.TrimSuffix(obj.Key, "/")
			entries = append(entries, Entry{Path: p, Name: path.Base(p), Type: EntryDir})
			continue
		}
		entries = append(entries, Entry{Path: obj.Key, Name: path.Base(obj.Key), SHA: obj.ETag, Type: EntryFile, Size: obj.Size})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	return entries, nil
}

func (m *minioStorage) URL(p string) string {
	return m.baseURL + EscapePath(p)
}

func (m *minioStorage) PathFromURL(rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, m.baseURL) {
		return "", false
	}
	p := unescapePath(strings.TrimPrefix(rawURL, m.baseURL))
	return p, p != ""
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
