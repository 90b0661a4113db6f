package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/util"

	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

// Stripe event types handled by this service
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventTransferCreated          = "transfer.created"
)

// Outcome describes how a delivery was settled
type Outcome string

const (
	OutcomeHandled   Outcome = "handled"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// HandlerFunc handles one verified event
type HandlerFunc func(ctx context.Context, event stripe.Event) error

// WebhookRouter dispatches verified events to handlers by type
type WebhookRouter struct {
	handlers map[string]HandlerFunc
	log      WebhookLog
	dedup    DedupCache
	dedupTTL time.Duration
	logger   *zap.Logger
}

// NewWebhookRouter creates a router; dedup may be nil
func NewWebhookRouter(log WebhookLog, dedup DedupCache, dedupTTL time.Duration) *WebhookRouter {
	return &WebhookRouter{
		handlers: make(map[string]HandlerFunc),
		log:      log,
		dedup:    dedup,
		dedupTTL: dedupTTL,
		logger:   util.GetLogger(),
	}
}

// On registers the handler for an event type
func (r *WebhookRouter) On(eventType string, handler HandlerFunc) {
	r.handlers[eventType] = handler
}

// Dispatch runs the handler for event. A non-nil error means the delivery
// should be retried by the sender; permanent failures and duplicates are
// settled here and reported only through the outcome.
func (r *WebhookRouter) Dispatch(ctx context.Context, event stripe.Event, payload []byte) (Outcome, error) {
	eventType := string(event.Type)
	fields := []zap.Field{zap.String("event_id", event.ID), zap.String("event_type", eventType)}

	handler, ok := r.handlers[eventType]
	if !ok {
		r.logger.Info("Ignoring unhandled event type", fields...)
		util.WebhookEventsTotal.WithLabelValues(eventType, string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}

	if r.alreadyHandled(ctx, event.ID) {
		r.logger.Info("Event already handled", fields...)
		util.WebhookEventsTotal.WithLabelValues(eventType, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	if err := r.log.RecordWebhookEvent(ctx, event.ID, eventType, payload); err != nil {
		r.logger.Warn("Failed to record webhook event", append(fields, zap.Error(err))...)
	}

	start := time.Now()
	err := handler(ctx, event)
	util.WebhookHandlerLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())

	var outcome Outcome
	switch {
	case err == nil:
		outcome = OutcomeHandled
	case errors.Is(err, ErrDuplicateEvent):
		r.logger.Info("Duplicate delivery skipped", append(fields, zap.Error(err))...)
		outcome = OutcomeDuplicate
	case IsPermanent(err):
		r.logger.Warn("Event rejected permanently", append(fields, zap.Error(err))...)
		outcome = OutcomeRejected
	default:
		r.logger.Error("Event handler failed", append(fields, zap.Error(err))...)
		outcome = OutcomeFailed
	}
	util.WebhookEventsTotal.WithLabelValues(eventType, string(outcome)).Inc()

	var processingErr *string
	if err != nil && outcome != OutcomeDuplicate {
		msg := err.Error()
		processingErr = &msg
	}
	if markErr := r.log.MarkWebhookEventProcessed(ctx, event.ID, processingErr); markErr != nil {
		r.logger.Warn("Failed to mark webhook event", append(fields, zap.Error(markErr))...)
	}

	if outcome == OutcomeFailed {
		return outcome, err
	}

	r.remember(ctx, event.ID)
	return outcome, nil
}

func (r *WebhookRouter) alreadyHandled(ctx context.Context, eventID string) bool {
	if r.dedup == nil || eventID == "" {
		return false
	}
	seen, err := r.dedup.CheckIdempotencyKey(ctx, dedupKey(eventID))
	if err != nil {
		r.logger.Warn("Dedup cache lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return seen
}

func (r *WebhookRouter) remember(ctx context.Context, eventID string) {
	if r.dedup == nil || eventID == "" {
		return
	}
	if err := r.dedup.SetIdempotencyKey(ctx, dedupKey(eventID), "1", r.dedupTTL); err != nil {
		r.logger.Warn("Dedup cache write failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func dedupKey(eventID string) string {
	return "stripe-event:" + eventID
}

// eventObject returns the raw data.object of an event
func eventObject(event stripe.Event) (json.RawMessage, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s carries no data object", ErrValidation, event.ID)
	}
	return event.Data.Raw, nil
}
