package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/telegrid/backend/internal/domain"
	"github.com/telegrid/backend/internal/response"
)

func HandleDomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return response.Conflict(c, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return response.Unauthorized(c, "authentication required")
	case errors.Is(err, domain.ErrSessionExpired):
		return response.Unauthorized(c, "session expired")
	case errors.Is(err, domain.ErrForbidden):
		return response.Forbidden(c, err.Error())
	default:
		return response.InternalError(c)
	}
}
