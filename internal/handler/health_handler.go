package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

// Check is one dependency pinged by /readyz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// RegisterOpsRoutes mounts the liveness, readiness and metrics endpoints.
// A nil metrics handler leaves /metrics unmounted.
func RegisterOpsRoutes(app fiber.Router, metrics http.Handler, checks ...Check) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler pings every dependency concurrently under one deadline and
// reports 503 when any of them fails.
func ReadyzHandler(checks ...Check) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		failed := make([]bool, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			i, check := i, check
			g.Go(func() error {
				failed[i] = check.Ping(ctx) != nil
				return nil
			})
		}
		_ = g.Wait()

		results := fiber.Map{}
		ready := true
		for i, check := range checks {
			if failed[i] {
				results[check.Name] = "down"
				ready = false
				continue
			}
			results[check.Name] = "ok"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
