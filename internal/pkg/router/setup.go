package router

import (
	"github.com/ManuelReschke/subsync/app/controllers"
	"github.com/ManuelReschke/subsync/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Billing        *controllers.BillingController
	Verifier       *middleware.TokenVerifier
	LimiterStorage fiber.Storage
	CheckoutLimit  int
}

func InstallRouter(app *fiber.App, deps Deps) {
	// Operational routes first so they stay outside the API middleware.
	setup(app, NewHttpRouter(), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
