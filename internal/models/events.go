package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Notification topics
const (
	EventTypeOrderPaid             = "order.paid"
	EventTypeSubscriptionActivated = "subscription.activated"
	EventTypeTransferSettled       = "transfer.settled"
	EventTypeWalletWithdrawn       = "wallet.withdrawn"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PartitionKey keeps a user's notifications in order
func (e BaseEvent) PartitionKey() string {
	return fmt.Sprintf("user-%d", e.UserID)
}

// OrderPaidEvent published when a checkout produced an order
type OrderPaidEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	ShopID      int64           `json:"shop_id"`
	PaymentID   int64           `json:"payment_id"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// SubscriptionActivatedEvent published when a user's plan is replaced or created
type SubscriptionActivatedEvent struct {
	BaseEvent
	SubscriptionID       int64  `json:"subscription_id"`
	PackageID            int64  `json:"package_id"`
	StripeSubscriptionID string `json:"stripe_subscription_id"`
	ReplacedStripeID     string `json:"replaced_stripe_id,omitempty"`
}

// TransferSettledEvent published when a vendor payout lands
type TransferSettledEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	TransferID string `json:"transfer_id"`
}

// WalletWithdrawnEvent published when a withdrawal debits a wallet
type WalletWithdrawnEvent struct {
	BaseEvent
	WalletID   int64           `json:"wallet_id"`
	TransferID string          `json:"transfer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// LineItem is a checkout line item as serialized in session metadata.
type LineItem struct {
	ProductID int64           `json:"productId"`
	VariantID *int64          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
