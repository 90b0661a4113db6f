package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// EventVerifier authenticates a raw webhook delivery
type EventVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// EventDispatcher routes a verified event to its handler
type EventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event, payload []byte) (service.Outcome, error)
}

// Queries serves reconciled state
type Queries interface {
	GetOrder(ctx context.Context, id int64) (*service.OrderDetails, error)
	GetWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	GetSubscription(ctx context.Context, userID int64) (*service.SubscriptionDetails, error)
}

// Withdrawals starts wallet withdrawals
type Withdrawals interface {
	RequestWithdrawal(ctx context.Context, req service.WithdrawalRequest) (*service.WithdrawalResult, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	verifier    EventVerifier
	router      EventDispatcher
	queries     Queries
	withdrawals Withdrawals
	deps        map[string]Pinger
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are checked by /ready.
func NewHandler(verifier EventVerifier, router EventDispatcher, queries Queries, withdrawals Withdrawals, deps map[string]Pinger) *Handler {
	return &Handler{
		verifier:    verifier,
		router:      router,
		queries:     queries,
		withdrawals: withdrawals,
		deps:        deps,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/stripe", h.stripeWebhook)

		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/wallets/:userId", h.getWallet)
		v1.POST("/wallets/:userId/withdrawals", h.createWithdrawal)
		v1.GET("/users/:id/subscription", h.getSubscription)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// stripeWebhook verifies and dispatches a Stripe delivery. Anything other
// than a 2xx makes Stripe redeliver.
func (h *Handler) stripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Unreadable request body",
			"details": err.Error(),
		})
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader(payments.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrSecretNotConfigured):
			h.logger.Error("Webhook secret not configured; refusing delivery")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook endpoint not configured"})
			return
		case errors.Is(err, payments.ErrAPIVersionMismatch):
			h.logger.Error("Webhook endpoint API version does not match this build; refusing delivery", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook endpoint not configured"})
			return
		case errors.Is(err, payments.ErrMalformedEvent):
			h.logger.Warn("Signed webhook body is not an event", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Malformed event",
				"details": err.Error(),
			})
			return
		}
		util.WebhookSignatureFailures.Inc()
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid signature",
			"details": err.Error(),
		})
		return
	}

	outcome, err := h.router.Dispatch(c.Request.Context(), event, payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "Event processing failed",
			"event_id": event.ID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  outcome,
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	details, err := h.queries.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) getWallet(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	wallet, err := h.queries.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, wallet)
}

func (h *Handler) getSubscription(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	details, err := h.queries.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

type withdrawalBody struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// createWithdrawal starts a withdrawal of available wallet balance
func (h *Handler) createWithdrawal(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	var body withdrawalBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if body.IdempotencyKey == "" {
		body.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.withdrawals.RequestWithdrawal(c.Request.Context(), service.WithdrawalRequest{
		UserID:         userID,
		Amount:         body.Amount,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, res)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
