package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"gitblog/internal/logging"
	"gitblog/internal/service"
)

type cleanupResponse struct {
	Success      bool                   `json:"success"`
	Message      string                 `json:"message"`
	DryRun       bool                   `json:"dryRun"`
	Deleted      []string               `json:"deleted"`
	DeletedCount int                    `json:"deletedCount"`
	Orphans      []string               `json:"orphans"`
	Errors       []service.PartialError `json:"errors"`
	ErrorCount   int                    `json:"errorCount"`
}

// CleanOrphanedFiles deletes media files that no post references.
//
// @Summary  Clean orphaned files
// @Tags     files
// @Produce  json
// @Param    dryRun  query  bool  false  "List orphans without deleting"
// @Success  200 {object} cleanupResponse
// @Failure  500 {object} errorPayload
// @Router   /files/clean-orphaned-files [delete]
func CleanOrphanedFiles(cleaner service.Cleaner, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts := service.CleanupOptions{DryRun: c.QueryBool("dryRun", false)}
		res, err := cleaner.CleanOrphanedFiles(c.UserContext(), opts)
		if err != nil {
			return serviceError(c, log, "clean orphaned files", err)
		}

		msg := fmt.Sprintf("Cleanup completed. Deleted %d files.", len(res.Deleted))
		if res.DryRun {
			msg = fmt.Sprintf("Dry run completed. Found %d orphaned files.", len(res.Orphans))
		}
		return c.JSON(cleanupResponse{
			Success:      true,
			Message:      msg,
			DryRun:       res.DryRun,
			Deleted:      nonNil(res.Deleted),
			DeletedCount: len(res.Deleted),
			Orphans:      nonNil(res.Orphans),
			Errors:       nonNil(res.Errors),
			ErrorCount:   len(res.Errors),
		})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
