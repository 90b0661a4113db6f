package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Stripe webhook deliveries by event type and outcome",
	}, []string{"type", "outcome"})

	WebhookHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_handler_latency_seconds",
		Help:    "Latency of webhook event handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	WebhookSignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Webhook deliveries rejected by signature verification",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created from completed checkouts",
	})

	DuplicateCheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_duplicates_total",
		Help: "Checkout completions skipped because the payment intent was already recorded",
	})

	SubscriptionsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_activated_total",
		Help: "Total number of subscriptions activated",
	})

	SubscriptionsReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_replaced_total",
		Help: "Active subscriptions cancelled to make way for a new one",
	})

	SubscriptionSagaFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_saga_failures_total",
		Help: "Subscription replacement failures by step",
	}, []string{"step"})

	TransfersAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_applied_total",
		Help: "Transfer settlements applied to orders and wallets",
	}, []string{"type"})

	VendorTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_transfers_total",
		Help: "Platform-initiated vendor transfers by outcome",
	}, []string{"outcome"})

	WithdrawalsRequestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawals_requested_total",
		Help: "Wallet withdrawal requests by outcome",
	}, []string{"outcome"})

	NotificationsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_relayed_total",
		Help: "Notifications relayed to realtime channels by topic",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
