package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Entitled/app/controllers"
	"github.com/ManuelReschke/Entitled/internal/pkg/middleware"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and collaborators the routes are built from.
type Dependencies struct {
	Users          middleware.APIKeyLookup
	Subscriptions  *controllers.SubscriptionController
	Webhooks       *controllers.WebhookController
	HealthChecks   []controllers.HealthCheck
	LimiterStorage fiber.Storage // nil keeps limiter state in memory

	MetricsUser     string
	MetricsPassword string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Operational and webhook routes first; the API key middleware only guards /api.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
