package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is implemented by the store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts health, metrics and the v1 marketplace API. nc and
// st may be nil when NATS or persistence are disabled.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st HealthChecker, h *MarketHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "disabled",
			"store": "disabled",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		if st != nil {
			checks["store"] = "ok"
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/listings", h.ListListings)
	v1.Post("/listings", h.ListItem)
	v1.Get("/listings/:collection/:assetId", h.GetListing)
	v1.Put("/listings/:collection/:assetId", h.UpdateListing)
	v1.Delete("/listings/:collection/:assetId", h.CancelItem)
	v1.Post("/listings/:collection/:assetId/buy", h.BuyItem)
	v1.Get("/proceeds/:owner", h.GetProceeds)
	v1.Post("/proceeds/withdraw", h.WithdrawProceeds)
}
