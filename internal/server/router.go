package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/packsmith/packsmith/internal/cache"
)

// AppOptions controls how the mirror application is assembled.
type AppOptions struct {
	Logger     *logrus.Logger
	Store      cache.Store
	ListenPort int
}

const contextKeyRequestID = "_packsmith_request_id"

// NewApp builds a Fiber application that serves the content cache read-only
// under /cas/:algo/:digest, the layout other builds expect from a mirror.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	serve := casHandler(opts)
	app.Head("/cas/:algo/:digest", serve)
	app.Get("/cas/:algo/:digest", serve)

	app.Use(func(c fiber.Ctx) error {
		return renderError(c, fiber.StatusNotFound, "not_found")
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// casHandler 按算法与摘要返回缓存内容，GET 与 HEAD 共用。
func casHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		algo := c.Params("algo")
		digest := c.Params("digest")

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := opts.Store.Open(ctx, algo, digest)
		if err != nil {
			status, code := classifyStoreError(err)
			logServe(opts.Logger, c, algo, digest, status, started, err)
			return renderError(c, status, code)
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		c.Set("X-Content-Digest", result.Entry.Algorithm+"="+result.Entry.Digest)
		c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
		c.Status(fiber.StatusOK)

		if c.Method() == http.MethodHead {
			result.Reader.Close()
			logServe(opts.Logger, c, algo, digest, fiber.StatusOK, started, nil)
			return nil
		}

		_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
		result.Reader.Close()
		logServe(opts.Logger, c, algo, digest, fiber.StatusOK, started, err)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read cache failed: %v", err))
		}
		return nil
	}
}

func classifyStoreError(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, cache.ErrUnsupportedHash), errors.Is(err, cache.ErrInvalidDigest):
		return fiber.StatusBadRequest, "invalid_digest"
	default:
		return fiber.StatusInternalServerError, "cache_unavailable"
	}
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func logServe(logger *logrus.Logger, c fiber.Ctx, algo, digest string, status int, started time.Time, err error) {
	fields := logrus.Fields{
		"action":     "mirror_serve",
		"method":     c.Method(),
		"algo":       algo,
		"digest":     digest,
		"status":     status,
		"request_id": RequestID(c),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	entry := logger.WithFields(fields)
	switch {
	case err != nil && status >= fiber.StatusBadRequest && status < fiber.StatusInternalServerError:
		entry.Debug("mirror miss")
	case err != nil:
		entry.WithError(err).Error("mirror request failed")
	default:
		entry.Info("mirror hit")
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
