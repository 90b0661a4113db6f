package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/models"
)

const (
	subscriptionStripeIDKey = "subscriptions_stripe_subscription_id_key"
	oneActivePerUserIndex   = "subscriptions_one_active_per_user"
)

// GetActiveSubscriptionByUserID returns nil without error when the user has no active plan
func (s *Store) GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT * FROM subscriptions WHERE user_id = $1 AND status = $2",
		userID, models.SubscriptionStatusActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByStripeID returns nil without error when the id is unknown
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT * FROM subscriptions WHERE stripe_subscription_id = $1", stripeSubscriptionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription row
func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}

// ActivateSubscription inserts the subscription and points the user at it.
// Only the subscription columns of the user row are written.
func (s *Store) ActivateSubscription(ctx context.Context, sub *models.Subscription, stripeCustomerID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO subscriptions (user_id, package_id, stripe_subscription_id, transaction_id, status, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		sub.UserID, sub.PackageID, sub.StripeSubscriptionID, sub.TransactionID, sub.Status, sub.Email,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if violatesConstraint(err, subscriptionStripeIDKey) {
			return fmt.Errorf("subscription %s: %w", sub.StripeSubscriptionID, ErrConflict)
		}
		if violatesConstraint(err, oneActivePerUserIndex) {
			return fmt.Errorf("user %d still has an active subscription: %w", sub.UserID, ErrActiveSubscriptionExists)
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET subscription_id = $1, is_subscribed = $2, stripe_customer_id = $3, updated_at = NOW()
		WHERE id = $4`,
		sub.ID, sub.Status == models.SubscriptionStatusActive, stripeCustomerID, sub.UserID)
	if err != nil {
		return fmt.Errorf("failed to update user subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", sub.UserID, ErrNotFound)
	}

	return tx.Commit()
}
