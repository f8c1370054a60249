package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

// HealthCheck probes one backing service.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HandleHealth runs all checks concurrently and answers 503 when any of them fails.
func HandleHealth(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		results := make([]string, len(checks))
		var g errgroup.Group
		for i, hc := range checks {
			i, hc := i, hc
			g.Go(func() error {
				if err := hc.Check(ctx); err != nil {
					log.Warnf("[Health] %s check failed: %v", hc.Name, err)
					results[i] = "down"
					return err
				}
				results[i] = "up"
				return nil
			})
		}
		err := g.Wait()

		services := fiber.Map{}
		for i, hc := range checks {
			services[hc.Name] = results[i]
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "services": services})
		}
		return c.JSON(fiber.Map{"status": "ok", "services": services})
	}
}
