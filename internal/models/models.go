package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User is owned by the account service; this service reads it and records
// subscription state on it.
type User struct {
	ID               int64     `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	SubscriptionID   *int64    `db:"subscription_id" json:"subscription_id,omitempty"`
	IsSubscribed     bool      `db:"is_subscribed" json:"is_subscribed"`
	StripeAccountID  *string   `db:"stripe_account_id" json:"stripe_account_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Package is a paid vendor plan mapped to a Stripe product.
type Package struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	StripeProductID string          `db:"stripe_product_id" json:"stripe_product_id"`
	Price           decimal.Decimal `db:"price" json:"price"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Shop is a vendor storefront with its connected payout account.
type Shop struct {
	ID              int64     `db:"id" json:"id"`
	OwnerID         int64     `db:"owner_id" json:"owner_id"`
	Name            string    `db:"name" json:"name"`
	StripeAccountID *string   `db:"stripe_account_id" json:"stripe_account_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Order represents a purchase from a single shop
type Order struct {
	ID                         int64           `db:"id" json:"id"`
	UserID                     int64           `db:"user_id" json:"user_id"`
	ShopID                     int64           `db:"shop_id" json:"shop_id"`
	CouponID                   *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	TotalAmount                decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount             decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	DeliveryCharge             decimal.Decimal `db:"delivery_charge" json:"delivery_charge"`
	FinalAmount                decimal.Decimal `db:"final_amount" json:"final_amount"`
	Status                     string          `db:"status" json:"status"`
	ShippingAddress            json.RawMessage `db:"shipping_address" json:"shipping_address"`
	PaymentMethod              string          `db:"payment_method" json:"payment_method"`
	PaymentStatus              string          `db:"payment_status" json:"payment_status"`
	PaymentID                  *int64          `db:"payment_id" json:"payment_id,omitempty"`
	IsPaymentTransferredVendor bool            `db:"is_payment_transferred_to_vendor" json:"is_payment_transferred_to_vendor"`
	CreatedAt                  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time       `db:"updated_at" json:"updated_at"`
}

// ComputeFinalAmount applies final = total - discount + delivery.
func (o *Order) ComputeFinalAmount() {
	o.FinalAmount = o.TotalAmount.Sub(o.DiscountAmount).Add(o.DeliveryCharge)
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	VariantID *int64          `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Payment is one paid checkout attempt. PaymentIntentID is unique.
type Payment struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ShopID          int64           `db:"shop_id" json:"shop_id"`
	Method          string          `db:"method" json:"method"`
	Status          string          `db:"status" json:"status"`
	TransactionID   string          `db:"transaction_id" json:"transaction_id"`
	PaymentIntentID string          `db:"payment_intent_id" json:"payment_intent_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	GatewayPayload  json.RawMessage `db:"gateway_payload" json:"-"`
	IsDeleted       bool            `db:"is_deleted" json:"is_deleted"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Subscription is a vendor's paid plan. At most one active row per user.
type Subscription struct {
	ID                   int64     `db:"id" json:"id"`
	UserID               int64     `db:"user_id" json:"user_id"`
	PackageID            int64     `db:"package_id" json:"package_id"`
	StripeSubscriptionID string    `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	TransactionID        string    `db:"transaction_id" json:"transaction_id"`
	Status               string    `db:"status" json:"status"`
	Email                string    `db:"email" json:"email"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Wallet is a per-user ledger of platform funds
type Wallet struct {
	ID                              int64           `db:"id" json:"id"`
	UserID                          int64           `db:"user_id" json:"user_id"`
	TotalEarning                    decimal.Decimal `db:"total_earning" json:"total_earning"`
	TotalLifeTimeWithdrawal         decimal.Decimal `db:"total_life_time_withdrawal" json:"total_life_time_withdrawal"`
	TotalAvailableBalanceToWithdraw decimal.Decimal `db:"total_available_balance_to_withdraw" json:"total_available_balance_to_withdraw"`
	TotalLifeTimeSpend              decimal.Decimal `db:"total_life_time_spend" json:"total_life_time_spend"`
	AdminDue                        decimal.Decimal `db:"admin_due" json:"admin_due"`
	CreatedAt                       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                       time.Time       `db:"updated_at" json:"updated_at"`
}

// Order and payment statuses written when a checkout is reconciled
const (
	OrderStatusPending = "pending"
	PaymentStatusPaid  = "paid"
)

// SubscriptionStatusActive marks the one plan a user may hold
const SubscriptionStatusActive = "active"

// Transfer types carried in Stripe transfer metadata
const (
	TransferTypeVendor   = "TRANSFER"
	TransferTypeWithdraw = "WITHDRAW"
)

// WebhookEvent is the audit row for a verified provider event.
type WebhookEvent struct {
	EventID         string          `db:"event_id"`
	EventType       string          `db:"event_type"`
	Payload         json.RawMessage `db:"payload"`
	ReceivedAt      time.Time       `db:"received_at"`
	ProcessedAt     *time.Time      `db:"processed_at"`
	ProcessingError *string         `db:"processing_error"`
}
