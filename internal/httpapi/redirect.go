package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

func (s *Server) handleRedirect(c *fiber.Ctx) error {
	// Params point into fiber's reusable buffer; the code outlives the
	// request in the cache and the click counter.
	code := utils.CopyString(c.Params("code"))

	res, err := s.deps.Resolver.Resolve(c.UserContext(), code)
	if err != nil {
		return message(c, fiber.StatusInternalServerError, "Internal error")
	}

	switch res.Outcome {
	case shortlink.OutcomeDestination:
		return c.Redirect(res.URL, fiber.StatusFound)
	case shortlink.OutcomeExpired:
		return message(c, fiber.StatusGone, "Link expired")
	default:
		return message(c, fiber.StatusNotFound, "Link not found")
	}
}
