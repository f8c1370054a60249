package controllers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Entitled/internal/pkg/contentgate"
	"github.com/ManuelReschke/Entitled/internal/pkg/entitlements"
	"github.com/ManuelReschke/Entitled/internal/pkg/membership"
)

// SubscriptionController serves the authenticated subscription and content API.
type SubscriptionController struct {
	svc *membership.Service
}

func NewSubscriptionController(svc *membership.Service) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

type upgradeRequest struct {
	Tier       string `json:"tier" validate:"required,max=50"`
	PaymentRef string `json:"payment_ref" validate:"max=191"`
}

type cancelRequest struct {
	Immediate bool   `json:"immediate"`
	Reason    string `json:"reason" validate:"max=255"`
}

type createContentRequest struct {
	ContentType string          `json:"content_type" validate:"required,max=32"`
	FileSize    int64           `json:"file_size" validate:"gte=0"`
	Title       string          `json:"title" validate:"max=255"`
	Metadata    json.RawMessage `json:"metadata"`
}

// HandleGetSubscription returns the caller's current subscription.
func (h *SubscriptionController) HandleGetSubscription(c *fiber.Ctx) error {
	view, err := h.svc.GetCurrentSubscription(c.UserContext(), callerFrom(c))
	if err != nil {
		return respondAPIError(c, err)
	}
	return c.JSON(view)
}

// HandleUpgrade upgrades the caller to a higher tier.
func (h *SubscriptionController) HandleUpgrade(c *fiber.Ctx) error {
	caller := callerFrom(c)
	if caller.UserID == 0 {
		return respondUnauthorized(c)
	}
	var req upgradeRequest
	if err := parseBody(c, &req); err != nil {
		return respondBadRequest(c, err.Error())
	}
	res, err := h.svc.UpgradeSubscription(c.UserContext(), caller, req.Tier, req.PaymentRef)
	if err != nil {
		return respondAPIError(c, err)
	}
	return c.JSON(res)
}

// HandleCancel cancels the caller's subscription.
func (h *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	caller := callerFrom(c)
	if caller.UserID == 0 {
		return respondUnauthorized(c)
	}
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return respondBadRequest(c, err.Error())
		}
	}
	if err := h.svc.CancelSubscription(c.UserContext(), caller, req.Immediate, req.Reason); err != nil {
		return respondAPIError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleCreateContent consumes one slot and stores the content.
func (h *SubscriptionController) HandleCreateContent(c *fiber.Ctx) error {
	caller := callerFrom(c)
	if caller.UserID == 0 {
		return respondUnauthorized(c)
	}
	var req createContentRequest
	if err := parseBody(c, &req); err != nil {
		return respondBadRequest(c, err.Error())
	}
	metadata := ""
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		metadata = string(req.Metadata)
	}
	res, err := h.svc.CreateContent(c.UserContext(), caller, contentgate.CreateRequest{
		ContentType: entitlements.ContentType(req.ContentType),
		FileSize:    req.FileSize,
		Title:       req.Title,
		Metadata:    metadata,
	})
	if err != nil {
		return respondAPIError(c, err)
	}
	return c.JSON(res)
}

// HandleGetContent returns one content item owned by the caller.
func (h *SubscriptionController) HandleGetContent(c *fiber.Ctx) error {
	item, err := h.svc.GetContent(c.UserContext(), callerFrom(c), c.Params("id"))
	if err != nil {
		return respondAPIError(c, err)
	}
	var metadata interface{}
	if item.Metadata != "" {
		metadata = json.RawMessage(item.Metadata)
	}
	return c.JSON(fiber.Map{
		"id":           item.ID,
		"content_type": item.ContentType,
		"file_size":    item.FileSize,
		"title":        item.Title,
		"metadata":     metadata,
		"created_at":   item.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// HandleContentStats reports slot usage of the caller.
func (h *SubscriptionController) HandleContentStats(c *fiber.Ctx) error {
	stats, err := h.svc.GetContentStats(c.UserContext(), callerFrom(c))
	if err != nil {
		return respondAPIError(c, err)
	}
	return c.JSON(stats)
}
