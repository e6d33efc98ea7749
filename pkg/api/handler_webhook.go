package api

import (
	"io"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/replyworks/sage/pkg/services"
)

// maxIncomingWebhookBytes bounds inbound webhook bodies; signing covers the
// raw bytes so they must be read fully before verification.
const maxIncomingWebhookBytes = 1 << 20

// subscribeHandler handles POST /api/v1/webhooks/subscriptions.
// The response is the only payload that ever carries the raw signing
// secret; it is echoed explicitly next to the stored subscription.
func (s *Server) subscribeHandler(c *echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := s.webhookService.Subscribe(c.Request().Context(), services.SubscribeInput{
		URL:    req.URL,
		Kinds:  req.Kinds,
		Secret: req.Secret,
		Policy: req.Policy,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"subscription": sub,
		"secret":       sub.Secret,
	})
}

// listSubscriptionsHandler handles GET /api/v1/webhooks/subscriptions.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	subs, err := s.webhookService.Subscriptions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"subscriptions": subs})
}

// deactivateSubscriptionHandler handles DELETE /api/v1/webhooks/subscriptions/:id.
func (s *Server) deactivateSubscriptionHandler(c *echo.Context) error {
	if err := s.webhookService.Deactivate(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listDeliveriesHandler handles GET /api/v1/webhooks/subscriptions/:id/deliveries.
// ?status=dead is the DLQ view.
func (s *Server) listDeliveriesHandler(c *echo.Context) error {
	limit, offset := listQueryBounds(c, 50)
	deliveries, err := s.webhookService.Deliveries(c.Request().Context(),
		c.Param("id"), c.QueryParam("status"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"deliveries": deliveries})
}

// retryDeliveryHandler handles POST /api/v1/webhooks/deliveries/:id/retry.
func (s *Server) retryDeliveryHandler(c *echo.Context) error {
	delivery, err := s.webhookService.RetryDelivery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, delivery)
}

// incomingWebhookHandler handles POST /webhooks/incoming/:source.
// Authentication is the HMAC scheme, not the bearer token; every
// verification failure maps to 401 without detail.
func (s *Server) incomingWebhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIncomingWebhookBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	source := c.Param("source")
	err = s.webhookService.Incoming(c.Request().Context(),
		source,
		c.Request().Header.Get("X-Timestamp"),
		body,
		c.Request().Header.Get("X-Signature"),
		c.Request().Header.Get("X-Event-Id"),
	)
	if err != nil {
		if services.IsValidationError(err) {
			return mapServiceError(err)
		}
		slog.Warn("Rejected inbound webhook", "source", source, "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "verification failed")
	}
	return c.NoContent(http.StatusAccepted)
}
