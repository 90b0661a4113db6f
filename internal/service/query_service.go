package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
)

// OrderDetails is an order with its items and live payment
type OrderDetails struct {
	Order   *models.Order      `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Payment *models.Payment    `json:"payment,omitempty"`
}

// SubscriptionDetails is a user's subscription state
type SubscriptionDetails struct {
	UserID       int64                `json:"user_id"`
	IsSubscribed bool                 `json:"is_subscribed"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// QueryService serves the read side of reconciled state
type QueryService struct {
	store QueryStore
}

// NewQueryService creates a query service
func NewQueryService(store QueryStore) *QueryService {
	return &QueryService{store: store}
}

// GetOrder returns an order with its items and payment
func (s *QueryService) GetOrder(ctx context.Context, id int64) (*OrderDetails, error) {
	order, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{Order: order, Items: items}
	payment, err := s.store.GetPaymentByOrderID(ctx, id)
	switch {
	case err == nil:
		details.Payment = payment
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return details, nil
}

// GetWallet returns a user's wallet
func (s *QueryService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	wallet, err := s.store.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	return wallet, nil
}

// GetSubscription returns a user's active subscription, if any
func (s *QueryService) GetSubscription(ctx context.Context, userID int64) (*SubscriptionDetails, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	sub, err := s.store.GetActiveSubscriptionByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &SubscriptionDetails{
		UserID:       user.ID,
		IsSubscribed: user.IsSubscribed,
		Subscription: sub,
	}, nil
}
