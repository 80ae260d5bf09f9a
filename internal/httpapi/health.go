package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status, code := "healthy", fiber.StatusOK
	database := "connected"
	if err := s.deps.Links.Ping(ctx); err != nil {
		database = "disconnected"
		status, code = "unhealthy", fiber.StatusServiceUnavailable
	}

	cacheState := "connected"
	if s.deps.CacheBackend == "memory" {
		cacheState = "memory"
	} else if err := s.deps.Cache.Ping(ctx); err != nil {
		cacheState = "disconnected"
	}

	return c.Status(code).JSON(fiber.Map{
		"status":      status,
		"timestamp":   s.deps.Now().UTC().Format(time.RFC3339),
		"environment": s.deps.AppEnv,
		"services": fiber.Map{
			"database": database,
			"cache":    cacheState,
		},
	})
}
