package router

import (
	"time"

	"github.com/ManuelReschke/subsync/app/controllers"
	"github.com/ManuelReschke/subsync/internal/pkg/middleware"
	"github.com/ManuelReschke/subsync/internal/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Authorization,Content-Type,Stripe-Signature",
	}))

	// Provider webhooks: signature-verified, no bearer auth, no rate limit.
	v1.All("/events", h.deps.Billing.HandleWebhook)

	checkoutLimiter := ratelimit.New(ratelimit.Config{
		Max:          h.deps.CheckoutLimit,
		Expiration:   time.Minute,
		Storage:      h.deps.LimiterStorage,
		KeyGenerator: controllers.ClientIP,
	})
	bearer := middleware.BearerAuth(h.deps.Verifier)

	v1.Post("/checkout", checkoutLimiter, bearer, h.deps.Billing.HandleCheckout)
	v1.Get("/subscription", bearer, middleware.RequireAPIAuth, h.deps.Billing.HandleGetSubscription)
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
