package service

import (
	"context"
	"encoding/json"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
)

// CheckoutStore persists orders created from completed checkouts
type CheckoutStore interface {
	GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error)
	CreatePaidOrder(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment) error
}

// SubscriptionStore persists subscriptions and the user's pointer to them
type SubscriptionStore interface {
	GetPackageByStripeProductID(ctx context.Context, productID string) (*models.Package, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	ActivateSubscription(ctx context.Context, sub *models.Subscription, stripeCustomerID string) error
}

// TransferStore applies settled transfers exactly once per transfer id
type TransferStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetShopByID(ctx context.Context, id int64) (*models.Shop, error)
	ApplyVendorTransfer(ctx context.Context, transferID string, orderID int64) error
	ApplyWithdrawal(ctx context.Context, transferID string, walletID int64, amount decimal.Decimal) (*models.Wallet, error)
}

// PayoutStore resolves payout destinations and balances
type PayoutStore interface {
	GetShopByID(ctx context.Context, id int64) (*models.Shop, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
}

// QueryStore serves read endpoints
type QueryStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetActiveSubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error)
}

// WebhookLog is the audit trail of verified deliveries
type WebhookLog interface {
	RecordWebhookEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage) error
	MarkWebhookEventProcessed(ctx context.Context, eventID string, processingErr *string) error
}

// SubscriptionGateway is the part of Stripe the subscription handler calls
type SubscriptionGateway interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)
	CancelSubscription(ctx context.Context, id string) error
}

// PayoutGateway is the part of Stripe that moves money
type PayoutGateway interface {
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
	GetAvailableBalance(ctx context.Context, currency string) (int64, error)
	CreateTransfer(ctx context.Context, req payments.TransferRequest) (*stripe.Transfer, error)
	CreatePayout(ctx context.Context, accountID string, amount int64, currency string) (*stripe.Payout, error)
}

// Notifier publishes realtime notifications
type Notifier interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Locker serializes work on one key across instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// DedupCache remembers handled event ids
type DedupCache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
