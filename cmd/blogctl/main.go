package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"gitblog/internal/codec"
	"gitblog/internal/config"
	"gitblog/internal/logging"
	"gitblog/internal/service"
	"gitblog/internal/storage"
)

func main() {
	app := cli.App{
		Name:  "blogctl",
		Usage: "operator tool for a git-backed blog repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "content store backend (github, minio, memory)",
				EnvVars: []string{"STORE_BACKEND"},
				Value:   config.BackendGitHub,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level for diagnostics written to stderr",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "deadline for the whole command",
				Value: 5 * time.Minute,
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "gc",
			Usage:  "delete media files no post references",
			Action: gcAction,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "dry-run", Usage: "list orphans without deleting them"},
			},
		},
		{
			Name:   "init",
			Usage:  "create the repository layout and sync template files",
			Action: initAction,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "templates", Usage: "directory of template files", EnvVars: []string{"TEMPLATES_DIR"}},
			},
		},
		{
			Name:   "posts",
			Usage:  "list posts, newest first",
			Action: postsAction,
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Usage: "maximum posts to print, 0 for all"},
			},
		},
	}
	app.RunAndExitOnError()
}

// env is what every command needs, built from the environment and global flags.
type env struct {
	cfg   *config.AppConfig
	store storage.Store
	log   logging.Logger
	out   io.Writer
}

func newEnv(cctx *cli.Context) (*env, error) {
	cfg := config.Load()
	cfg.Backend = cctx.String("backend")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cctx.String("log-level"), cfg.Location())
	store, err := storage.Open(cfg, logger.Slog())
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: store, log: logger, out: cctx.App.Writer}, nil
}

func gcAction(cctx *cli.Context) error {
	e, err := newEnv(cctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
	defer cancel()
	return runGC(ctx, e, cctx.Bool("dry-run"))
}

func initAction(cctx *cli.Context) error {
	e, err := newEnv(cctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
	defer cancel()
	return runInit(ctx, e, cctx.String("templates"))
}

func postsAction(cctx *cli.Context) error {
	e, err := newEnv(cctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
	defer cancel()
	return runPosts(ctx, e, cctx.Int("limit"))
}

func runGC(ctx context.Context, e *env, dryRun bool) error {
	cleaner := service.NewCleaner(e.store, e.log, nil, 0)
	res, err := cleaner.CleanOrphanedFiles(ctx, service.CleanupOptions{DryRun: dryRun})
	if err != nil {
		return err
	}
	return writeJSON(e.out, res)
}

func runInit(ctx context.Context, e *env, templates string) error {
	rep, err := service.NewInitializer(e.store, templates, storage.DefaultRetryPolicy, e.log).Initialize(ctx)
	if rep != nil {
		if werr := writeJSON(e.out, rep); werr != nil {
			return werr
		}
	}
	return err
}

func runPosts(ctx context.Context, e *env, limit int) error {
	index := service.NewIndexMaintainer(e.store, storage.DefaultRetryPolicy, e.log)
	svc, err := service.NewPostService(e.store, index, e.log, service.PostOptions{
		ListConcurrency: e.cfg.ListConcurrency,
		CacheSize:       e.cfg.PostCacheSize,
	})
	if err != nil {
		return err
	}
	posts, err := svc.List(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMEDIA\tTITLE\tEXCERPT")
	for _, p := range posts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.CreatedAt.Format(time.DateOnly), len(p.ContentFiles)+len(p.Files), p.Title, excerpt(p.Content, 60))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// excerpt returns the first n runes of the post's plain text on one line.
func excerpt(markup string, n int) string {
	text := strings.Join(strings.Fields(codec.PlainText(markup)), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
