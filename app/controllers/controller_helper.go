package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Entitled/internal/pkg/membership"
	"github.com/ManuelReschke/Entitled/internal/pkg/usercontext"
)

var validate = validator.New()

func callerFrom(c *fiber.Ctx) membership.Caller {
	u := usercontext.GetUserContext(c)
	if !u.IsLoggedIn {
		return membership.Caller{}
	}
	return membership.Caller{UserID: u.UserID, Email: u.Email}
}

func respondUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
}

func respondBadRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}

// parseBody decodes the JSON body into dst and validates its struct tags. The returned
// error text is safe to send to the client.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return errors.New("Invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}

// respondAPIError maps membership errors to HTTP responses. Only the error code, the
// safe message and the deny reason reach the client.
func respondAPIError(c *fiber.Ctx, err error) error {
	var apiErr *membership.APIError
	if !errors.As(err, &apiErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal error"})
	}
	status := fiber.StatusInternalServerError
	switch apiErr.Code {
	case membership.CodeUnauthorized:
		status = fiber.StatusUnauthorized
	case membership.CodeBadRequest:
		status = fiber.StatusBadRequest
	case membership.CodeForbidden:
		status = fiber.StatusForbidden
	}
	body := fiber.Map{"error": strings.ToLower(string(apiErr.Code)), "message": apiErr.Message}
	if apiErr.Reason != "" {
		body["reason"] = apiErr.Reason
	}
	return c.Status(status).JSON(body)
}
