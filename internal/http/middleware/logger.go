package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"gitblog/internal/logging"

	"github.com/gofiber/fiber/v2"
)

// Logger is a middleware that writes one JSON access log line per request to stdout.
// Fields: request_id, method, path, status, latency (milliseconds) and ts.
func Logger(loc *time.Location) fiber.Handler {
	return LoggerWithWriter(os.Stdout, loc)
}

// LoggerWithWriter is Logger with a custom destination.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return LoggerWithSlog(slog.New(logging.NewJSONHandler(w, "debug", loc)))
}

// LoggerWithSlog logs through an existing slog logger. Server errors log at error
// level and client errors at warn.
func LoggerWithSlog(l *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		status := statusOf(c, err)
		latency := float64(time.Since(start).Microseconds()) / 1000

		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		}

		// request_id is set explicitly; the user context would add it a second time.
		l.LogAttrs(context.Background(), level, "request",
			slog.String("request_id", rid),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Float64("latency", latency),
		)

		return err
	}
}

// statusOf returns the status the error handler will send for err, or the
// status already written when the handler succeeded.
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
