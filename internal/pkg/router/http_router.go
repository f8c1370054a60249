package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/Entitled/app/controllers"
	"github.com/ManuelReschke/Entitled/internal/pkg/ratelimit"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", controllers.HandleHealth(h.deps.HealthChecks...))

	ops := h.operatorAuth()
	app.Get("/metrics", ops, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/monitor", ops, monitor.New(monitor.Config{Title: "Entitled Monitor"}))

	// Billing provider webhooks (signature-verified in the controller)
	webhooks := app.Group("/webhooks", ratelimit.Webhooks(h.deps.LimiterStorage))
	webhooks.Post("/stripe", h.deps.Webhooks.HandleStripeWebhook)
	webhooks.Post("/gumroad", h.deps.Webhooks.HandleGumroadWebhook)
}

// operatorAuth guards /metrics and /monitor. Without credentials both answer 404.
func (h HttpRouter) operatorAuth() fiber.Handler {
	if h.deps.MetricsUser == "" || h.deps.MetricsPassword == "" {
		log.Warn("[Router] METRICS_USER/METRICS_PASSWORD not set, /metrics and /monitor are disabled")
		return func(c *fiber.Ctx) error {
			return fiber.ErrNotFound
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{
			h.deps.MetricsUser: h.deps.MetricsPassword,
		},
	})
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
