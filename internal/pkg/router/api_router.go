package router

import (
	apiv1 "github.com/ManuelReschke/Entitled/internal/api/v1"
	"github.com/ManuelReschke/Entitled/internal/pkg/middleware"
	"github.com/ManuelReschke/Entitled/internal/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api",
		middleware.APIKeyAuthMiddleware(h.deps.Users),
		ratelimit.API(h.deps.LimiterStorage),
	)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(h.deps.Subscriptions)
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
