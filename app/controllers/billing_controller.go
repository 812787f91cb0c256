package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/ManuelReschke/subsync/internal/pkg/billing"
	"github.com/ManuelReschke/subsync/internal/pkg/metrics"
	"github.com/ManuelReschke/subsync/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	webhookTimeout  = 15 * time.Second
	checkoutTimeout = 20 * time.Second
	statusTimeout   = 5 * time.Second
)

// BillingController exposes webhook ingestion, checkout and the subscription
// read API over HTTP.
type BillingController struct {
	svc     *billing.Service
	gateway *billing.Gateway
}

// NewBillingController creates the controller.
func NewBillingController(svc *billing.Service, gateway *billing.Gateway) *BillingController {
	return &BillingController{svc: svc, gateway: gateway}
}

// HandleWebhook receives provider events. Signature and payload problems
// answer 400; processing failures answer 500 so the provider delivers again.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodPost:
	case fiber.MethodOptions:
		return c.SendStatus(fiber.StatusNoContent)
	default:
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return errorJSON(c, fiber.StatusMethodNotAllowed, "method not allowed")
	}

	started := time.Now()
	rawBody := append([]byte(nil), c.Body()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	out, err := bc.gateway.Handle(ctx, rawBody, signature)

	eventType := out.EventType
	if eventType == "" {
		eventType = "unverified"
	}
	status := fiber.StatusOK
	if err != nil {
		status = billing.HTTPStatus(err)
		if status == fiber.StatusUnauthorized {
			status = fiber.StatusBadRequest
		}
		log.Errorf("[Webhook] Event %q (%s, customer %q) answered %d: %v", out.EventID, eventType, out.CustomerID, status, err)
	}
	metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(started).Seconds())

	if err != nil {
		return errorJSON(c, status, billing.PublicMessage(err))
	}
	return c.JSON(fiber.Map{"received": true})
}

// HandleCheckout starts a hosted checkout. A bearer token is optional; its
// identity is attached by the auth middleware.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	var req billing.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	var caller *billing.Caller
	if uc := usercontext.GetUserContext(c); uc.IsLoggedIn {
		caller = &billing.Caller{UserID: uc.UserID, Email: uc.Email}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), checkoutTimeout)
	defer cancel()

	url, err := bc.svc.StartCheckout(ctx, req, caller)
	if err != nil {
		status := billing.HTTPStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[Checkout] Starting checkout for price %q failed: %v", req.PriceID, err)
		}
		return errorJSON(c, status, billing.PublicMessage(err))
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleGetSubscription returns the caller's subscription snapshot.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), statusTimeout)
	defer cancel()

	status, err := bc.svc.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		log.Errorf("[Billing] Reading subscription of user %s failed: %v", userID, err)
		return errorJSON(c, billing.HTTPStatus(err), billing.PublicMessage(err))
	}
	if status == nil {
		return c.JSON(fiber.Map{"subscription": nil, "is_active": false})
	}
	return c.JSON(status)
}
