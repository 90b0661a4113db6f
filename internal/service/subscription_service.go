package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

// SubscriptionService materializes Stripe subscriptions as the user's single
// active plan.
type SubscriptionService struct {
	store    SubscriptionStore
	gateway  SubscriptionGateway
	locker   Locker
	notifier Notifier
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewSubscriptionService creates a subscription service
func NewSubscriptionService(
	store SubscriptionStore,
	gateway SubscriptionGateway,
	locker Locker,
	notifier Notifier,
	lockTTL time.Duration,
) *SubscriptionService {
	return &SubscriptionService{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		lockTTL:  lockTTL,
		logger:   util.GetLogger(),
	}
}

// HandleSubscriptionCreated records a new subscription and retires any
// prior active one for the same user.
func (s *SubscriptionService) HandleSubscriptionCreated(ctx context.Context, event stripe.Event) (err error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.HandleSubscriptionCreated")
	defer func() {
		util.RecordSpanError(span, err)
		span.End()
	}()

	raw, err := eventObject(event)
	if err != nil {
		return err
	}
	var delivered stripe.Subscription
	if err := json.Unmarshal(raw, &delivered); err != nil {
		return fmt.Errorf("%w: decode subscription: %v", ErrValidation, err)
	}
	if err := validateSubscription(&delivered); err != nil {
		return err
	}

	// The delivered object may be stale; Stripe's current view is authoritative.
	sub, err := s.gateway.GetSubscription(ctx, delivered.ID)
	if err != nil {
		return err
	}
	customerID := delivered.Customer.ID
	if sub.Customer != nil && sub.Customer.ID != "" {
		customerID = sub.Customer.ID
	}
	productID := productIDOf(sub)
	if productID == "" {
		productID = productIDOf(&delivered)
	}

	customer, err := s.gateway.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	pkg, err := s.store.GetPackageByStripeProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no package for product %s", ErrNotFound, productID)
		}
		return err
	}

	if customer.Email == "" {
		return fmt.Errorf("%w: customer %s has no email", ErrValidation, customerID)
	}
	user, err := s.store.GetUserByEmail(ctx, customer.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no user with email %s", ErrNotFound, customer.Email)
		}
		return err
	}

	transactionID, err := s.latestPaymentIntent(ctx, sub)
	if err != nil {
		return err
	}

	token, err := s.locker.AcquireLock(ctx, subscriptionLockKey(user.ID), s.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire subscription lock: %w", err)
	}
	if token == "" {
		return fmt.Errorf("%w: user %d", ErrLockBusy, user.ID)
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.Background(), subscriptionLockKey(user.ID), token); err != nil {
			s.logger.Warn("Failed to release subscription lock", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}()

	// Checked under the lock so a concurrent redelivery cannot cancel the
	// subscription this event is about to create.
	known, err := s.store.GetSubscriptionByStripeID(ctx, sub.ID)
	if err != nil {
		return err
	}
	if known != nil {
		return fmt.Errorf("%w: subscription %s already recorded", ErrDuplicateEvent, sub.ID)
	}

	next := &models.Subscription{
		UserID:               user.ID,
		PackageID:            pkg.ID,
		StripeSubscriptionID: sub.ID,
		TransactionID:        transactionID,
		Status:               string(sub.Status),
		Email:                customer.Email,
	}

	replaced, err := s.replaceSubscription(ctx, user, next, customer.ID)
	if err != nil {
		return err
	}

	util.SubscriptionsActivatedTotal.Inc()
	s.logger.Info("Subscription activated",
		zap.String("event_id", event.ID),
		zap.Int64("user_id", user.ID),
		zap.Int64("package_id", pkg.ID),
		zap.String("stripe_subscription_id", sub.ID),
		zap.String("replaced", replaced))

	s.notifyActivated(ctx, next, replaced)
	return nil
}

// replaceSubscription runs the three ordered steps of a plan replacement:
// cancel the prior subscription at Stripe, delete it locally, insert the new
// one. It returns the Stripe id of the replaced subscription, if any.
func (s *SubscriptionService) replaceSubscription(ctx context.Context, user *models.User, next *models.Subscription, customerID string) (string, error) {
	fields := []zap.Field{zap.Int64("user_id", user.ID), zap.String("new_subscription", next.StripeSubscriptionID)}

	prior, err := s.store.GetActiveSubscriptionByUserID(ctx, user.ID)
	if err != nil {
		return "", err
	}

	replaced := ""
	if prior != nil {
		replaced = prior.StripeSubscriptionID
		fields = append(fields, zap.String("prior_subscription", replaced))

		if err := s.cancelExternal(ctx, prior.StripeSubscriptionID); err != nil {
			util.SubscriptionSagaFailures.WithLabelValues("cancel_external").Inc()
			s.logger.Error("Subscription replace aborted before local changes", append(fields, zap.Error(err))...)
			return "", err
		}

		if err := s.store.DeleteSubscription(ctx, prior.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			util.SubscriptionSagaFailures.WithLabelValues("delete_local").Inc()
			s.logger.Error("Prior subscription cancelled at Stripe but still active locally; redelivery will finish the replace",
				append(fields, zap.Error(err))...)
			return "", err
		}
		util.SubscriptionsReplacedTotal.Inc()
	}

	if err := s.store.ActivateSubscription(ctx, next, customerID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", fmt.Errorf("%w: %v", ErrDuplicateEvent, err)
		}
		util.SubscriptionSagaFailures.WithLabelValues("insert_local").Inc()
		if prior != nil {
			s.logger.Error("Prior subscription removed but new one not recorded; user has no active plan until redelivery",
				append(fields, zap.Error(err))...)
		}
		return "", fmt.Errorf("failed to activate subscription: %w", err)
	}

	return replaced, nil
}

// cancelExternal cancels at Stripe and treats an already-cancelled
// subscription as success so a retried replace can progress.
func (s *SubscriptionService) cancelExternal(ctx context.Context, stripeID string) error {
	cancelErr := s.gateway.CancelSubscription(ctx, stripeID)
	if cancelErr == nil {
		return nil
	}

	current, err := s.gateway.GetSubscription(ctx, stripeID)
	if err == nil && current.Status == stripe.SubscriptionStatusCanceled {
		return nil
	}
	return cancelErr
}

func (s *SubscriptionService) latestPaymentIntent(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.LatestInvoice == nil || sub.LatestInvoice.ID == "" {
		return "", nil
	}
	inv, err := s.gateway.GetInvoice(ctx, sub.LatestInvoice.ID)
	if err != nil {
		return "", err
	}
	if inv.PaymentIntent == nil {
		return "", nil
	}
	return inv.PaymentIntent.ID, nil
}

func (s *SubscriptionService) notifyActivated(ctx context.Context, sub *models.Subscription, replaced string) {
	event := &models.SubscriptionActivatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSubscriptionActivated,
			UserID:    sub.UserID,
			Timestamp: time.Now(),
		},
		SubscriptionID:       sub.ID,
		PackageID:            sub.PackageID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		ReplacedStripeID:     replaced,
	}
	if err := s.notifier.Publish(ctx, models.EventTypeSubscriptionActivated, event); err != nil {
		s.logger.Error("Failed to publish SubscriptionActivated event", zap.Int64("user_id", sub.UserID), zap.Error(err))
	}
}

func validateSubscription(sub *stripe.Subscription) error {
	switch {
	case sub.ID == "":
		return fmt.Errorf("%w: subscription id is missing", ErrValidation)
	case sub.Customer == nil || sub.Customer.ID == "":
		return fmt.Errorf("%w: subscription %s has no customer", ErrValidation, sub.ID)
	case sub.Items == nil || len(sub.Items.Data) == 0:
		return fmt.Errorf("%w: subscription %s has no line items", ErrValidation, sub.ID)
	case productIDOf(sub) == "":
		return fmt.Errorf("%w: subscription %s first item has no product", ErrValidation, sub.ID)
	}
	return nil
}

func productIDOf(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil || item.Price.Product == nil {
		return ""
	}
	return item.Price.Product.ID
}

func subscriptionLockKey(userID int64) string {
	return fmt.Sprintf("subscription:user:%d", userID)
}
