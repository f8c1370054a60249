package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent
	"github.com/ManuelReschke/Entitled/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	subscriptions *controllers.SubscriptionController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(subscriptions *controllers.SubscriptionController) *APIServer {
	return &APIServer{subscriptions: subscriptions}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	return s.subscriptions.HandleGetSubscription(c)
}

func (s *APIServer) PostSubscriptionUpgrade(c *fiber.Ctx) error {
	return s.subscriptions.HandleUpgrade(c)
}

func (s *APIServer) PostSubscriptionCancel(c *fiber.Ctx) error {
	return s.subscriptions.HandleCancel(c)
}

func (s *APIServer) PostContent(c *fiber.Ctx) error {
	return s.subscriptions.HandleCreateContent(c)
}

func (s *APIServer) GetContentStats(c *fiber.Ctx) error {
	return s.subscriptions.HandleContentStats(c)
}

// GetContent returns one content item of the authenticated user.
// The controller reads the id from the route params; the wrapper already checked it.
func (s *APIServer) GetContent(c *fiber.Ctx, id string) error {
	return s.subscriptions.HandleGetContent(c)
}

var _ ServerInterface = (*APIServer)(nil)
