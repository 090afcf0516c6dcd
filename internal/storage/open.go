package storage

import (
	"fmt"
	"log/slog"
	"time"

	"gitblog/internal/config"
)

// Open builds the Store selected by cfg.Backend.
func Open(cfg *config.AppConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendGitHub:
		return NewGitHub(GitHubOptions{
			Token:  cfg.GitHub.Token,
			Owner:  cfg.GitHub.Owner,
			Repo:   cfg.GitHub.Repo,
			Branch: cfg.GitHub.Branch,
			APIURL: cfg.GitHub.APIURL,
			RawURL: cfg.GitHub.RawURL,
			HTTPClient: NewHTTPClient(HTTPClientOptions{
				MaxRetries: cfg.GitHub.MaxRetries,
				Timeout:    time.Duration(cfg.GitHub.TimeoutSec) * time.Second,
				Logger:     logger,
			}),
		})
	case config.BackendMinIO:
		return NewMinIO(cfg.MinIO)
	case config.BackendMemory:
		return NewMemory(cfg.MemoryBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
