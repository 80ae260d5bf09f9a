// Package httpapi exposes the redirect endpoint, the owner-scoped link
// management API and the health check over fiber.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

// Resolver is the redirect orchestrator.
type Resolver interface {
	Resolve(ctx context.Context, code string) (shortlink.Resolution, error)
}

// PendingClicks reports clicks counted but not yet flushed to the store.
type PendingClicks interface {
	Pending(ctx context.Context, code string) (int64, error)
}

// Invalidator drops cached resolutions after a management write.
type Invalidator interface {
	Invalidate(ctx context.Context, codes ...string) error
	Ping(ctx context.Context) error
}

type Deps struct {
	Resolver     Resolver
	Links        shortlink.Store
	Cache        Invalidator
	Clicks       PendingClicks
	CacheBackend string
	AppDomain    string
	AppEnv       string
	JWTSecret    []byte
	Now          func() time.Time
}

type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewApp builds the fiber app with every route registered.
func NewApp(deps Deps) *fiber.App {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, validate: newValidator(deps.Now)}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.FiberMiddleware())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)

	links := api.Group("/short-links", RequireOwner(deps.JWTSecret))
	links.Get("/", s.handleListLinks)
	links.Post("/", s.handleCreateLink)
	links.Post("/bulk-delete", s.handleBulkDelete)
	links.Get("/:id", s.handleShowLink)
	links.Put("/:id", s.handleUpdateLink)
	links.Delete("/:id", s.handleDeleteLink)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("API is running")
	})
	app.Get("/:code", s.handleRedirect)

	return app
}

func message(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"message": msg})
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		msg = fe.Message
	} else {
		logger.FromContext(c.UserContext()).Error("unhandled error", "err", err)
	}
	return message(c, status, msg)
}
