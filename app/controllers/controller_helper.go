package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/apperror"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// respondError writes the API error envelope for err. Admin callers also get
// the underlying error chain in "detail".
func respondError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)

	body := fiber.Map{
		"error":   "internal_error",
		"code":    "INTERNAL_ERROR",
		"message": "Internal server error",
	}
	if appErr, ok := apperror.As(err); ok {
		body["error"] = string(appErr.Kind)
		body["code"] = appErr.Code
		body["message"] = appErr.Message
	}
	if middleware.IsAdmin(c) {
		body["detail"] = err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(body)
}

// parseBody decodes the JSON request body into dst.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperror.Validation(apperror.CodeInvalidInput, "Invalid request body: "+err.Error())
	}
	return nil
}

// pagination reads ?page and ?limit and returns offset and limit.
func pagination(c *fiber.Ctx) (int, int) {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return (page - 1) * limit, limit
}
