package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"gitblog/internal/codec"
	"gitblog/internal/logging"
	"gitblog/internal/model"
	"gitblog/internal/storage"
)

// Upload is a plain attachment received with a create or update request.
type Upload struct {
	Name string
	Data []byte
}

// CreatePostInput is a validated create request.
type CreatePostInput struct {
	Title        string
	Content      string
	Files        []Upload
	ContentFiles []model.MediaRecord
}

// UpdatePostInput is a validated update request. ContentFiles is the full list the
// editor still references; FilesToDelete names attachments the caller removed.
type UpdatePostInput struct {
	ID            string
	Title         string
	Content       string
	Files         []Upload
	ContentFiles  []model.MediaRecord
	FilesToDelete []model.AttachedFile
}

// CreatePostResult identifies the stored post.
type CreatePostResult struct {
	PostID   string `json:"postId"`
	Filename string `json:"filename"`
}

// PostService synchronizes posts and their media with the content store.
type PostService interface {
	// List returns every readable post, newest first. Unreadable post files are skipped.
	List(ctx context.Context) ([]model.Post, error)

	// Get returns a single post by its ID.
	Get(ctx context.Context, id string) (*model.Post, error)

	// Create uploads inline media and attachments, stores the post record and lists it in the index.
	// - inline media identifiers in Content are rewritten to their durable URLs.
	// - an index failure is logged and does not undo the post write.
	Create(ctx context.Context, in CreatePostInput) (*CreatePostResult, error)

	// Update reconciles the stored post with the incoming state. Removed media are deleted
	// before new media are uploaded, and the record is written with the version read at the
	// start, so a concurrent writer makes it fail with storage.ErrConflict.
	Update(ctx context.Context, in UpdatePostInput) (*model.Post, error)

	// Delete removes the post's files, the post record and its index entry.
	Delete(ctx context.Context, id string) error
}

// PostOptions tunes a PostService. Zero values pick defaults.
type PostOptions struct {
	// Timeout bounds every operation; zero disables it.
	Timeout         time.Duration
	ListConcurrency int
	CacheSize       int
	Now             func() time.Time
	NewID           func() string
}

type postService struct {
	store storage.Store
	index IndexMaintainer
	log   logging.Logger
	opts  PostOptions
	cache *lru.Cache[string, model.Post]
}

// NewPostService constructs a PostService over store.
func NewPostService(store storage.Store, index IndexMaintainer, log logging.Logger, opts PostOptions) (PostService, error) {
	if opts.ListConcurrency <= 0 {
		opts.ListConcurrency = 8
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if log == nil {
		log = logging.Nop()
	}
	cache, err := lru.New[string, model.Post](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("post cache: %w", err)
	}
	return &postService{store: store, index: index, log: log, opts: opts, cache: cache}, nil
}

func (s *postService) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

var errEmptyPost = errors.New("empty post file")

func parsePost(b []byte) (*model.Post, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errEmptyPost
	}
	var p model.Post
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func encodePost(p *model.Post) ([]byte, error) {
	if p.Files == nil {
		p.Files = []model.AttachedFile{}
	}
	if p.ContentFiles == nil {
		p.ContentFiles = []model.MediaRecord{}
	}
	return json.MarshalIndent(p, "", "  ")
}

// readPost loads a post file, serving the parsed form from cache when the version is known.
func (s *postService) readPost(ctx context.Context, p string) (*model.Post, string, error) {
	f, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, "", err
	}
	if cached, ok := s.cache.Get(f.SHA); ok {
		return &cached, f.SHA, nil
	}
	post, err := parsePost(f.Content)
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", p, err)
	}
	s.cache.Add(f.SHA, *post)
	return post, f.SHA, nil
}

func isPostFile(e storage.Entry) bool {
	return e.Type == storage.EntryFile && path.Ext(e.Name) == ".json" && e.Path != MetaPath
}

func (s *postService) List(ctx context.Context) ([]model.Post, error) {
	ctx, cancel := s.begin(ctx)
	defer cancel()

	entries, err := s.store.List(ctx, PostsDir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []model.Post{}, nil
		}
		return nil, normalize(fmt.Errorf("list posts: %w", err))
	}

	var files []storage.Entry
	for _, e := range entries {
		if isPostFile(e) {
			files = append(files, e)
		}
	}

	results := make([]*model.Post, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ListConcurrency)
	for i, e := range files {
		if e.SHA != "" {
			if cached, ok := s.cache.Get(e.SHA); ok {
				results[i] = &cached
				continue
			}
		}
		g.Go(func() error {
			post, _, err := s.readPost(gctx, e.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Warn(gctx, "skipping unreadable post", "path", e.Path, "error", err)
				return nil
			}
			results[i] = post
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, normalize(err)
	}

	posts := make([]model.Post, 0, len(results))
	for _, p := range results {
		if p != nil {
			posts = append(posts, *p)
		}
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

func (s *postService) Get(ctx context.Context, id string) (*model.Post, error) {
	if !validID(id) {
		return nil, ErrIDRequired
	}
	ctx, cancel := s.begin(ctx)
	defer cancel()

	post, _, err := s.readPost(ctx, postPath(id))
	if err != nil {
		return nil, normalize(postNotFound(id, err))
	}
	return post, nil
}

// pendingMedia is an inline media file whose payload still has to be uploaded.
type pendingMedia struct {
	record model.MediaRecord
	path   string
	data   []byte
}

// collectPending decodes the inline payloads of records that are not uploaded yet. It runs
// before any store call so a malformed request is rejected without side effects.
func collectPending(records []model.MediaRecord) ([]pendingMedia, error) {
	var out []pendingMedia
	seen := map[string]string{}
	for i, rec := range records {
		if rec.Uploaded() || rec.Status == model.StatusDeleted {
			continue
		}
		data, ok, err := decodePayload(rec.URL)
		if err != nil {
			return nil, validationError("contentFiles[%d]: %v", i, err)
		}
		if !ok {
			continue
		}
		if rec.ID == "" {
			return nil, validationError("contentFiles[%d]: id is required", i)
		}
		name := safeName(rec.Name)
		if name == "" {
			return nil, validationError("contentFiles[%d]: name is required", i)
		}
		p := ContentDir + "/" + name
		if other, dup := seen[p]; dup {
			return nil, validationError("contentFiles %q and %q share the name %q", other, rec.ID, name)
		}
		seen[p] = rec.ID
		rec.Name = name
		out = append(out, pendingMedia{record: rec, path: p, data: data})
	}
	return out, nil
}

func validateText(title, content string) error {
	if strings.TrimSpace(title) == "" {
		return validationError("title is required")
	}
	if strings.TrimSpace(content) == "" {
		return validationError("content is required")
	}
	return nil
}

// uploadMedia stores each pending file and returns the uploaded records plus the
// identifier to URL rewrites for the content.
func (s *postService) uploadMedia(ctx context.Context, pending []pendingMedia) ([]model.MediaRecord, map[string]string, error) {
	uploaded := make([]model.MediaRecord, 0, len(pending))
	repl := make(map[string]string, len(pending))
	for _, pm := range pending {
		if _, err := s.store.Put(ctx, pm.path, pm.data, "Upload content file: "+pm.record.ID, ""); err != nil {
			return nil, nil, fmt.Errorf("upload content file %s: %w", pm.record.Name, err)
		}
		rec := pm.record
		rec.URL = s.store.URL(pm.path)
		rec.Status = model.StatusUploaded
		if rec.Type == "" {
			rec.Type = model.MediaTypeFromName(rec.Name)
		}
		uploaded = append(uploaded, rec)
		repl[rec.ID] = rec.URL
		s.log.Debug(ctx, "content file uploaded", "id", rec.ID, "path", pm.path)
	}
	return uploaded, repl, nil
}

func (s *postService) uploadAttachments(ctx context.Context, files []Upload) ([]model.AttachedFile, error) {
	out := make([]model.AttachedFile, 0, len(files))
	for _, f := range files {
		id := s.opts.NewID()
		name := id + strings.ToLower(path.Ext(safeName(f.Name)))
		p := ImagesDir + "/" + name
		if _, err := s.store.Put(ctx, p, f.Data, "Upload image: "+id, ""); err != nil {
			return nil, fmt.Errorf("upload file %s: %w", f.Name, err)
		}
		out = append(out, model.AttachedFile{ID: id, Name: name, URL: s.store.URL(p)})
	}
	return out, nil
}

// removeFile deletes the media file behind url. Failures are logged only.
func (s *postService) removeFile(ctx context.Context, url string) {
	p, ok := mediaPathFromURL(s.store, url)
	if !ok {
		s.log.Warn(ctx, "not deleting file outside media directories", "url", url)
		return
	}
	err := storage.DeleteFile(ctx, s.store, p, "Delete file: "+path.Base(p))
	switch {
	case err == nil:
		s.log.Debug(ctx, "file deleted", "path", p)
	case errors.Is(err, storage.ErrNotFound):
		s.log.Warn(ctx, "file already missing", "path", p)
	default:
		s.log.Error(ctx, "failed to delete file", "path", p, "error", err)
	}
}

// checkSources rejects content whose img or video tags would not resolve to an uploaded
// record once the write completes. kept are the records carried over unchanged.
func checkSources(content string, kept []model.MediaRecord, pending []pendingMedia) error {
	known := map[string]bool{}
	for _, m := range kept {
		if m.Uploaded() && m.URL != "" {
			known[m.ID] = true
			known[m.URL] = true
		}
	}
	for _, pm := range pending {
		known[pm.record.ID] = true
	}
	for _, src := range codec.MediaSources(content) {
		if !known[src] {
			return validationError("content references media %q that has no uploadable or uploaded contentFiles entry", src)
		}
	}
	return nil
}

func (s *postService) writePost(ctx context.Context, p *model.Post, message, sha string) error {
	b, err := encodePost(p)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	newSHA, err := s.store.Put(ctx, postPath(p.ID), b, message, sha)
	if err != nil {
		return fmt.Errorf("write post %s: %w", p.ID, err)
	}
	s.cache.Add(newSHA, *p)
	return nil
}

func (s *postService) Create(ctx context.Context, in CreatePostInput) (*CreatePostResult, error) {
	if err := validateText(in.Title, in.Content); err != nil {
		return nil, err
	}
	pending, err := collectPending(in.ContentFiles)
	if err != nil {
		return nil, err
	}
	if err := checkSources(in.Content, nil, pending); err != nil {
		return nil, err
	}
	ctx, cancel := s.begin(ctx)
	defer cancel()

	id := s.opts.NewID()
	log := s.log.With("post_id", id)

	media, repl, err := s.uploadMedia(ctx, pending)
	if err != nil {
		return nil, normalize(err)
	}
	files, err := s.uploadAttachments(ctx, in.Files)
	if err != nil {
		return nil, normalize(err)
	}

	post := &model.Post{
		ID:           id,
		Title:        in.Title,
		Content:      codec.RewriteSources(in.Content, repl),
		CreatedAt:    s.opts.Now(),
		Files:        files,
		ContentFiles: media,
	}
	if err := s.writePost(ctx, post, "Create post: "+in.Title, ""); err != nil {
		return nil, normalize(err)
	}

	if err := s.index.Add(ctx, post.Filename()); err != nil {
		log.Error(ctx, "failed to add post to index", "error", err)
	}
	log.Info(ctx, "post created", "files", len(files), "content_files", len(media))
	return &CreatePostResult{PostID: id, Filename: post.Filename()}, nil
}

func (s *postService) Update(ctx context.Context, in UpdatePostInput) (*model.Post, error) {
	if !validID(in.ID) {
		return nil, ErrIDRequired
	}
	if err := validateText(in.Title, in.Content); err != nil {
		return nil, err
	}
	pending, err := collectPending(in.ContentFiles)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.begin(ctx)
	defer cancel()
	log := s.log.With("post_id", in.ID)

	existing, sha, err := s.readPost(ctx, postPath(in.ID))
	if err != nil {
		return nil, normalize(postNotFound(in.ID, err))
	}

	incoming := make(map[string]bool, len(in.ContentFiles))
	for _, m := range in.ContentFiles {
		incoming[m.ID] = true
	}
	replaced := make(map[string]bool, len(pending))
	for _, pm := range pending {
		replaced[pm.record.ID] = true
	}

	var keptMedia, removedMedia []model.MediaRecord
	repl := map[string]string{}
	for _, m := range existing.ContentFiles {
		if !incoming[m.ID] || replaced[m.ID] {
			removedMedia = append(removedMedia, m)
			continue
		}
		keptMedia = append(keptMedia, m)
		if m.URL != "" {
			repl[m.ID] = m.URL
		}
	}
	if err := checkSources(in.Content, keptMedia, pending); err != nil {
		return nil, err
	}
	for _, m := range removedMedia {
		s.removeFile(ctx, m.URL)
	}

	dropped := map[string]bool{}
	for _, req := range in.FilesToDelete {
		match := findAttachment(existing.Files, req)
		if match == nil {
			log.Warn(ctx, "ignoring delete of file not attached to post", "file_id", req.ID, "url", req.URL)
			continue
		}
		s.removeFile(ctx, match.URL)
		dropped[match.ID] = true
	}

	uploadedMedia, uploadedRepl, err := s.uploadMedia(ctx, pending)
	if err != nil {
		return nil, normalize(err)
	}
	for k, v := range uploadedRepl {
		repl[k] = v
	}
	uploadedFiles, err := s.uploadAttachments(ctx, in.Files)
	if err != nil {
		return nil, normalize(err)
	}

	var files []model.AttachedFile
	for _, f := range existing.Files {
		if !dropped[f.ID] {
			files = append(files, f)
		}
	}
	files = append(files, uploadedFiles...)

	now := s.opts.Now()
	updated := &model.Post{
		ID:           existing.ID,
		Title:        in.Title,
		Content:      codec.RewriteSources(in.Content, repl),
		CreatedAt:    existing.CreatedAt,
		UpdatedAt:    &now,
		Files:        files,
		ContentFiles: append(keptMedia, uploadedMedia...),
	}
	if err := s.writePost(ctx, updated, "Update post: "+in.Title, sha); err != nil {
		return nil, normalize(err)
	}
	log.Info(ctx, "post updated", "files", len(updated.Files), "content_files", len(updated.ContentFiles))
	return updated, nil
}

func findAttachment(files []model.AttachedFile, req model.AttachedFile) *model.AttachedFile {
	for i := range files {
		if (req.ID != "" && files[i].ID == req.ID) || (req.URL != "" && files[i].URL == req.URL) {
			return &files[i]
		}
	}
	return nil
}

func (s *postService) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrIDRequired
	}
	ctx, cancel := s.begin(ctx)
	defer cancel()
	log := s.log.With("post_id", id)

	f, err := s.store.Get(ctx, postPath(id))
	if err != nil {
		return normalize(postNotFound(id, err))
	}
	post, err := parsePost(f.Content)
	if err != nil {
		log.Warn(ctx, "post record unreadable, deleting record only", "error", err)
		post = &model.Post{ID: id}
	}

	for _, file := range post.Files {
		s.removeFile(ctx, file.URL)
	}
	for _, m := range post.ContentFiles {
		s.removeFile(ctx, m.URL)
	}

	if err := s.store.Delete(ctx, postPath(id), f.SHA, "Delete post: "+post.Title); err != nil {
		return normalize(fmt.Errorf("delete post %s: %w", id, err))
	}
	s.cache.Remove(f.SHA)

	if err := s.index.Remove(ctx, model.PostFilename(id)); err != nil {
		return normalize(fmt.Errorf("update index: %w", err))
	}
	log.Info(ctx, "post deleted")
	return nil
}
