package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Entitled/internal/pkg/billing"
	"github.com/ManuelReschke/Entitled/internal/pkg/metrics"
	"github.com/ManuelReschke/Entitled/internal/pkg/subscription"
)

const webhookTimeout = 15 * time.Second

// WebhookController receives billing provider webhooks.
type WebhookController struct {
	ingestor     *billing.Ingestor
	stripeSecret string
	gumroadToken string
}

// NewWebhookController creates the controller. An empty secret or token disables the
// corresponding authenticity check, which is only meant for local development.
func NewWebhookController(ingestor *billing.Ingestor, stripeSecret, gumroadToken string) *WebhookController {
	if stripeSecret == "" {
		log.Warn("[Webhook] STRIPE_WEBHOOK_SECRET is empty, Stripe signatures are not verified")
	}
	if gumroadToken == "" {
		log.Warn("[Webhook] GUMROAD_WEBHOOK_TOKEN is empty, Gumroad pings are not authenticated")
	}
	return &WebhookController{ingestor: ingestor, stripeSecret: stripeSecret, gumroadToken: gumroadToken}
}

// HandleStripeWebhook verifies and ingests a Stripe event.
func (h *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	start := time.Now()
	payload := append([]byte(nil), c.BodyRaw()...)

	ev, err := billing.ParseStripeEvent(payload, c.Get(billing.StripeSignatureHeader), h.stripeSecret)
	if err != nil {
		return h.respond(c, subscription.ProviderStripe, start, billing.Result{}, err)
	}
	return h.ingest(c, subscription.ProviderStripe, start, ev)
}

// HandleGumroadWebhook authenticates and ingests a Gumroad ping. Gumroad cannot sign its
// pings, so the shared token is passed as the "token" query parameter.
func (h *WebhookController) HandleGumroadWebhook(c *fiber.Ctx) error {
	start := time.Now()
	if h.gumroadToken != "" && !billing.VerifyGumroadToken(c.Query("token"), h.gumroadToken) {
		return h.respond(c, subscription.ProviderGumroad, start, billing.Result{}, billing.ErrInvalidSignature)
	}

	payload := append([]byte(nil), c.BodyRaw()...)
	ev, err := billing.ParseGumroadEvent(payload, c.Get(fiber.HeaderContentType))
	if err != nil {
		return h.respond(c, subscription.ProviderGumroad, start, billing.Result{}, err)
	}
	return h.ingest(c, subscription.ProviderGumroad, start, ev)
}

func (h *WebhookController) ingest(c *fiber.Ctx, provider subscription.Provider, start time.Time, ev billing.ProviderEvent) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res, err := h.ingestor.Ingest(ctx, ev)
	return h.respond(c, provider, start, res, err)
}

// respond acknowledges every processed outcome with 200. Bad input is answered with 400
// so the provider stops retrying, temporary failures with 503 so it retries.
func (h *WebhookController) respond(c *fiber.Ctx, provider subscription.Provider, start time.Time, res billing.Result, err error) error {
	status := fiber.StatusOK
	outcome := string(res.Outcome)
	body := fiber.Map{"ok": true, "outcome": res.Outcome}

	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidSignature):
		status, outcome = fiber.StatusBadRequest, "invalid_signature"
		body = fiber.Map{"error": "invalid_signature", "message": "Webhook authenticity check failed"}
	case billing.IsClientError(err):
		status, outcome = fiber.StatusBadRequest, "invalid_payload"
		body = fiber.Map{"error": "invalid_payload", "message": err.Error()}
	case billing.IsTransient(err):
		status, outcome = fiber.StatusServiceUnavailable, "transient_error"
		body = fiber.Map{"error": "temporarily_unavailable", "message": "Try again later"}
	default:
		status, outcome = fiber.StatusInternalServerError, "error"
		body = fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"}
	}

	if err != nil {
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[Webhook] %s event %s failed: %v", provider, res.EventID, err)
		} else {
			log.Warnf("[Webhook] %s event rejected: %v", provider, err)
		}
	}

	metrics.WebhookRequestsTotal.WithLabelValues(string(provider), outcome, strconv.Itoa(status)).Inc()
	metrics.WebhookDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	return c.Status(status).JSON(body)
}
