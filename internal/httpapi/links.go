package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/shortlink-service/internal/logger"
	"github.com/MagnunAVF/shortlink-service/internal/shortlink"
)

type linkResource struct {
	ID            uint64     `json:"id"`
	OriginalURL   string     `json:"original_url"`
	Code          string     `json:"code"`
	ShortURL      string     `json:"short_url"`
	Clicks        uint64     `json:"clicks"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsExpired     bool       `json:"is_expired"`
	IsValid       bool       `json:"is_valid"`
	UserID        uint64     `json:"user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PendingClicks *int64     `json:"pending_clicks,omitempty"`
}

type linkMessage struct {
	Message string `json:"message"`
	linkResource
}

func (s *Server) resource(l *shortlink.ShortLink) linkResource {
	now := s.deps.Now()
	code := l.CodeValue()
	expired := l.IsExpiredAt(now)

	r := linkResource{
		ID:          l.ID,
		OriginalURL: l.OriginalURL,
		Code:        code,
		Clicks:      l.Clicks,
		ExpiresAt:   l.ExpiresAt,
		IsExpired:   expired,
		IsValid:     code != "" && !expired,
		UserID:      l.UserID,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if code != "" {
		r.ShortURL = s.deps.AppDomain + "/" + code
	}
	return r
}

func (s *Server) handleListLinks(c *fiber.Ctx) error {
	page, err := s.deps.Links.ListByUser(c.UserContext(), shortlink.ListParams{
		UserID:  currentUser(c),
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", 50),
	})
	if err != nil {
		return s.storeError(c, err)
	}

	data := make([]linkResource, 0, len(page.Links))
	for i := range page.Links {
		data = append(data, s.resource(&page.Links[i]))
	}
	lastPage := int((page.Total + int64(page.PerPage) - 1) / int64(page.PerPage))
	if lastPage < 1 {
		lastPage = 1
	}

	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"current_page": page.Page,
			"per_page":     page.PerPage,
			"total":        page.Total,
			"last_page":    lastPage,
		},
	})
}

const rfc3339Tag = "datetime=2006-01-02T15:04:05Z07:00"

type createLinkRequest struct {
	OriginalURL string `json:"original_url" validate:"required,max=2048,http_url"`
	ExpiresAt   string `json:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00,future"`
}

func (s *Server) handleCreateLink(c *fiber.Ctx) error {
	var req createLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return message(c, fiber.StatusBadRequest, "Invalid request")
	}

	errs := validationErrors{}
	collect(errs, s.validate.Struct(req))
	if len(errs) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": errs})
	}

	link, err := s.deps.Links.Create(c.UserContext(), shortlink.CreateParams{
		UserID:      currentUser(c),
		OriginalURL: req.OriginalURL,
		ExpiresAt:   parseExpiry(req.ExpiresAt),
	})
	if err != nil {
		return s.storeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(linkMessage{Message: "Short link created", linkResource: s.resource(link)})
}

func (s *Server) handleShowLink(c *fiber.Ctx) error {
	id, ok := linkID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Short link not found")
	}

	link, err := s.deps.Links.FindByID(c.UserContext(), id)
	if err != nil {
		return s.storeError(c, err)
	}
	if link.UserID != currentUser(c) {
		return message(c, fiber.StatusForbidden, "Unauthorized")
	}

	r := s.resource(link)
	if s.deps.Clicks != nil && r.Code != "" {
		pending, err := s.deps.Clicks.Pending(c.UserContext(), r.Code)
		if err != nil {
			logger.FromContext(c.UserContext()).Warn("pending clicks unavailable", "code", r.Code, "err", err)
		} else {
			r.PendingClicks = &pending
		}
	}
	return c.JSON(r)
}

// ExpiresAt stays raw so an explicit null (clear the expiry) can be told
// apart from an absent field.
type updateLinkRequest struct {
	OriginalURL *string         `json:"original_url" validate:"omitempty,max=2048,http_url"`
	ExpiresAt   json.RawMessage `json:"expires_at" validate:"-"`
}

func (s *Server) handleUpdateLink(c *fiber.Ctx) error {
	id, ok := linkID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Short link not found")
	}

	var req updateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return message(c, fiber.StatusBadRequest, "Invalid request")
	}

	errs := validationErrors{}
	collect(errs, s.validate.Struct(req))
	params := shortlink.UpdateParams{OriginalURL: req.OriginalURL}

	switch raw := strings.TrimSpace(string(req.ExpiresAt)); raw {
	case "":
	case "null":
		params.ClearExpiry = true
	default:
		var value string
		if err := json.Unmarshal(req.ExpiresAt, &value); err != nil {
			errs.add("expires_at", "The expires at field must be a valid date.")
			break
		}
		if err := s.validate.Var(value, rfc3339Tag+",future"); err != nil {
			collectField(errs, "expires_at", err)
			break
		}
		params.ExpiresAt = parseExpiry(value)
	}
	if len(errs) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": errs})
	}

	link, err := s.deps.Links.Update(c.UserContext(), id, currentUser(c), params)
	if err != nil {
		return s.storeError(c, err)
	}
	s.invalidate(c, link.CodeValue())

	return c.JSON(linkMessage{Message: "Short link updated", linkResource: s.resource(link)})
}

func (s *Server) handleDeleteLink(c *fiber.Ctx) error {
	id, ok := linkID(c)
	if !ok {
		return message(c, fiber.StatusNotFound, "Short link not found")
	}

	link, err := s.deps.Links.Delete(c.UserContext(), id, currentUser(c))
	if err != nil {
		return s.storeError(c, err)
	}
	s.invalidate(c, link.CodeValue())

	return message(c, fiber.StatusOK, "Short link deleted")
}

type bulkDeleteRequest struct {
	IDs []uint64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func (s *Server) handleBulkDelete(c *fiber.Ctx) error {
	var req bulkDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return message(c, fiber.StatusBadRequest, "Invalid request")
	}
	errs := validationErrors{}
	collect(errs, s.validate.Struct(req))
	if len(errs) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": errs})
	}

	deleted, err := s.deps.Links.DeleteMany(c.UserContext(), req.IDs, currentUser(c))
	if errors.Is(err, shortlink.ErrNotFound) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"errors": validationErrors{"ids": {"The selected ids are invalid."}},
		})
	}
	if err != nil {
		return s.storeError(c, err)
	}

	codes := make([]string, 0, len(deleted))
	for i := range deleted {
		codes = append(codes, deleted[i].CodeValue())
	}
	s.invalidate(c, codes...)

	return message(c, fiber.StatusOK, fmt.Sprintf("%d links deleted", len(deleted)))
}

// invalidate drops cached resolutions so redirects see the write before
// the cache TTL runs out. Failures only cost staleness.
func (s *Server) invalidate(c *fiber.Ctx, codes ...string) {
	if err := s.deps.Cache.Invalidate(c.UserContext(), codes...); err != nil {
		logger.FromContext(c.UserContext()).Warn("cache invalidation failed", "codes", codes, "err", err)
	}
}

func (s *Server) storeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, shortlink.ErrNotFound):
		return message(c, fiber.StatusNotFound, "Short link not found")
	case errors.Is(err, shortlink.ErrForbidden):
		return message(c, fiber.StatusForbidden, "Unauthorized")
	default:
		logger.FromContext(c.UserContext()).Error("short link store error", "err", err)
		return message(c, fiber.StatusInternalServerError, "Internal error")
	}
}

// parseExpiry parses a timestamp that already passed validation.
func parseExpiry(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func linkID(c *fiber.Ctx) (uint64, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	return id, err == nil && id > 0
}
