package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
)

const requestTimeout = 15 * time.Second

var errInvalidID = apperror.Validation("invalid_id", "invalid id")

// respondError renders err with the status its kind maps to. Internal causes
// are logged and never leave the process.
func respondError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   apperror.CodeOf(err),
		"message": apperror.PublicMessage(err),
	})
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

// pagination reads page/limit query values the way the admin listings expect.
func pagination(c *fiber.Ctx, defaultLimit int) (offset, limit int) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit = c.QueryInt("limit", defaultLimit)
	if limit < 1 || limit > 100 {
		limit = defaultLimit
	}
	return (page - 1) * limit, limit
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
