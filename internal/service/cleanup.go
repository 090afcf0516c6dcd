package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gitblog/internal/codec"
	"gitblog/internal/logging"
	"gitblog/internal/storage"
)

// CleanupOptions controls a cleanup pass.
type CleanupOptions struct {
	// DryRun reports orphans without deleting them.
	DryRun bool
}

// CleanupResult is the outcome of a cleanup pass. Per-file failures land in Errors and do
// not fail the pass.
type CleanupResult struct {
	Deleted    []string       `json:"deleted"`
	Orphans    []string       `json:"orphans"`
	Errors     []PartialError `json:"errors"`
	Referenced int            `json:"referenced"`
	Scanned    int            `json:"scanned"`
	DryRun     bool           `json:"dryRun"`
}

// Cleaner removes media files that no post references.
type Cleaner interface {
	// CleanOrphanedFiles aborts with ErrCleanupAborted when a post cannot be read or parsed,
	// and with ErrUnsafeCleanup when nothing is referenced but media files exist.
	CleanOrphanedFiles(ctx context.Context, opts CleanupOptions) (*CleanupResult, error)
}

// CleanupMetrics counts cleanup passes and deleted files.
type CleanupMetrics struct {
	runs    *prometheus.CounterVec
	deleted prometheus.Counter
	failed  prometheus.Counter
}

// NewCleanupMetrics creates and registers the cleanup metrics on reg.
func NewCleanupMetrics(reg prometheus.Registerer) (*CleanupMetrics, error) {
	m := &CleanupMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orphan_cleanup_runs_total",
			Help: "Orphaned file cleanup passes by outcome.",
		}, []string{"outcome"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orphan_cleanup_deleted_files_total",
			Help: "Orphaned files deleted from the content store.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orphan_cleanup_failed_files_total",
			Help: "Orphaned files that could not be deleted.",
		}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.deleted, m.failed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *CleanupMetrics) observe(res *CleanupResult, err error) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, ErrUnsafeCleanup):
		m.runs.WithLabelValues("unsafe").Inc()
	case err != nil:
		m.runs.WithLabelValues("aborted").Inc()
	case res.DryRun:
		m.runs.WithLabelValues("dry_run").Inc()
	default:
		m.runs.WithLabelValues("ok").Inc()
		m.deleted.Add(float64(len(res.Deleted)))
		m.failed.Add(float64(len(res.Errors)))
	}
}

type cleaner struct {
	store   storage.Store
	log     logging.Logger
	metrics *CleanupMetrics
	timeout time.Duration
}

// NewCleaner constructs a Cleaner. metrics may be nil.
func NewCleaner(store storage.Store, log logging.Logger, metrics *CleanupMetrics, timeout time.Duration) Cleaner {
	if log == nil {
		log = logging.Nop()
	}
	return &cleaner{store: store, log: log, metrics: metrics, timeout: timeout}
}

func (c *cleaner) CleanOrphanedFiles(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := c.run(ctx, opts)
	c.metrics.observe(res, err)
	return res, normalize(err)
}

func (c *cleaner) run(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	c.log.Info(ctx, "orphaned file cleanup started", "dry_run", opts.DryRun)

	referenced, err := c.referencedPaths(ctx)
	if err != nil {
		return nil, err
	}

	var physical []string
	for _, dir := range MediaDirs {
		files, err := storage.ListFiles(ctx, c.store, dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCleanupAborted, err)
		}
		for _, f := range files {
			if path.Base(f) != keepFile {
				physical = append(physical, f)
			}
		}
	}
	c.log.Info(ctx, "cleanup inventory", "referenced", len(referenced), "physical", len(physical))

	if len(referenced) == 0 && len(physical) > 0 {
		c.log.Error(ctx, "refusing cleanup with empty reference set", "physical", len(physical))
		return nil, ErrUnsafeCleanup
	}

	res := &CleanupResult{
		Deleted:    []string{},
		Orphans:    []string{},
		Errors:     []PartialError{},
		Referenced: len(referenced),
		Scanned:    len(physical),
		DryRun:     opts.DryRun,
	}
	for _, f := range physical {
		if !referenced[f] {
			res.Orphans = append(res.Orphans, f)
		}
	}
	sort.Strings(res.Orphans)
	if opts.DryRun {
		return res, nil
	}

	for _, f := range res.Orphans {
		if err := storage.DeleteFile(ctx, c.store, f, "Delete orphaned file: "+path.Base(f)); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Error(ctx, "failed to delete orphaned file", "path", f, "error", err)
			res.Errors = append(res.Errors, PartialError{File: f, Error: err.Error()})
			continue
		}
		c.log.Debug(ctx, "orphaned file deleted", "path", f)
		res.Deleted = append(res.Deleted, f)
	}
	c.log.Info(ctx, "orphaned file cleanup completed", "deleted", len(res.Deleted), "errors", len(res.Errors))
	return res, nil
}

// referencedPaths collects every store path referenced by any post. Any read or parse
// failure aborts, since a partial set would mark live files as orphans.
func (c *cleaner) referencedPaths(ctx context.Context) (map[string]bool, error) {
	refs := map[string]bool{}
	entries, err := c.store.List(ctx, PostsDir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return refs, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCleanupAborted, err)
	}

	add := func(url string) {
		if p, ok := c.store.PathFromURL(url); ok {
			refs[p] = true
		}
	}
	for _, e := range entries {
		if !isPostFile(e) {
			continue
		}
		f, err := c.store.Get(ctx, e.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCleanupAborted, e.Path, err)
		}
		post, err := parsePost(f.Content)
		if errors.Is(err, errEmptyPost) {
			c.log.Warn(ctx, "skipping empty post file", "path", e.Path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrCleanupAborted, e.Path, err)
		}
		for _, file := range post.Files {
			add(file.URL)
		}
		for _, m := range post.ContentFiles {
			add(m.URL)
		}
		for _, u := range codec.ExtractURLs(post.Content) {
			if p, ok := mediaPathFromURL(c.store, u); ok {
				refs[p] = true
			}
		}
	}
	return refs, nil
}
