package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitblog/internal/logging"
	"gitblog/internal/service"
	"gitblog/internal/storage"
)

// Dependencies are the collaborators the HTTP surface calls into.
type Dependencies struct {
	Store   storage.Store
	Posts   service.PostService
	Cleaner service.Cleaner
	Log     logging.Logger
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}

	app.Get("/health", HealthCheck(deps.Store))
	app.Get("/healthz", LivenessProbe())
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	posts := app.Group("/posts")
	posts.Get("/", ListPosts(deps.Posts, log))
	posts.Post("/", CreatePost(deps.Posts, log))
	posts.Get("/:id", GetPost(deps.Posts, log))
	posts.Get("/:id/document", GetPostDocument(deps.Posts, log))
	posts.Put("/:id", UpdatePost(deps.Posts, log))
	posts.Delete("/:id", DeletePost(deps.Posts, log))

	app.Delete("/files/clean-orphaned-files", CleanOrphanedFiles(deps.Cleaner, log))
}
