package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the response of GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the /api/v1 operations described in public/docs/v1/openapi.yml.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /subscription)
	GetSubscription(c *fiber.Ctx) error
	// (POST /subscription/upgrade)
	PostSubscriptionUpgrade(c *fiber.Ctx) error
	// (POST /subscription/cancel)
	PostSubscriptionCancel(c *fiber.Ctx) error
	// (POST /content)
	PostContent(c *fiber.Ctx) error
	// (GET /content/stats)
	GetContentStats(c *fiber.Ctx) error
	// (GET /content/{id})
	GetContent(c *fiber.Ctx, id string) error
}

// ServerInterfaceWrapper extracts path parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) GetContent(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "id missing"})
	}
	return w.Handler.GetContent(c, id)
}

// RegisterHandlers mounts every operation of si on router.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.Get("/ping", si.GetPing)
	router.Get("/subscription", si.GetSubscription)
	router.Post("/subscription/upgrade", si.PostSubscriptionUpgrade)
	router.Post("/subscription/cancel", si.PostSubscriptionCancel)
	router.Post("/content", si.PostContent)
	// static segment first so "stats" is never read as an id
	router.Get("/content/stats", si.GetContentStats)
	router.Get("/content/:id", wrapper.GetContent)
}
