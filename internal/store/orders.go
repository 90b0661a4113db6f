package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePaidOrder inserts the order, its items and its payment in one
// transaction, links the payment back onto the order and records the buyer's
// spend on their wallet. A payment intent that was already recorded yields
// ErrConflict and nothing is written.
func (s *Store) CreatePaidOrder(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := createOrder(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := createOrderItem(ctx, tx, &items[i]); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	payment.OrderID = order.ID
	if err := createPayment(ctx, tx, payment); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment intent %s: %w", payment.PaymentIntentID, ErrConflict)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_id = $1, updated_at = NOW() WHERE id = $2",
		payment.ID, order.ID); err != nil {
		return fmt.Errorf("failed to link payment: %w", err)
	}
	order.PaymentID = &payment.ID

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, total_life_time_spend)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET total_life_time_spend = wallets.total_life_time_spend + EXCLUDED.total_life_time_spend,
		    updated_at = NOW()`,
		order.UserID, order.FinalAmount); err != nil {
		return fmt.Errorf("failed to record buyer spend: %w", err)
	}

	return tx.Commit()
}

func createOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, shop_id, coupon_id, total_amount, discount_amount, delivery_charge,
			final_amount, status, shipping_address, payment_method, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return tx.QueryRowxContext(ctx, query,
		order.UserID, order.ShopID, order.CouponID, order.TotalAmount, order.DiscountAmount,
		order.DeliveryCharge, order.FinalAmount, order.Status, order.ShippingAddress,
		order.PaymentMethod, order.PaymentStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

func createOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice)
}

func createPayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (user_id, order_id, shop_id, method, status, transaction_id,
			payment_intent_id, amount, gateway_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return tx.QueryRowxContext(ctx, query,
		payment.UserID, payment.OrderID, payment.ShopID, payment.Method, payment.Status,
		payment.TransactionID, payment.PaymentIntentID, payment.Amount, payment.GatewayPayload,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetPaymentByIntentID returns nil without error when the intent is unseen
func (s *Store) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE payment_intent_id = $1", paymentIntentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderID retrieves the live payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 AND NOT is_deleted ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApplyVendorTransfer marks the order's funds as transferred to the vendor.
// The transfer id is recorded in the same transaction; ErrConflict means the
// transfer was applied before.
func (s *Store) ApplyVendorTransfer(ctx context.Context, transferID string, orderID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := claimTransfer(ctx, tx, transferID, models.TransferTypeVendor); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET is_payment_transferred_to_vendor = TRUE, updated_at = NOW() WHERE id = $1",
		orderID)
	if err != nil {
		return fmt.Errorf("failed to flag order transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}

	return tx.Commit()
}

func claimTransfer(ctx context.Context, tx *sqlx.Tx, transferID, transferType string) error {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_transfers (transfer_id, transfer_type) VALUES ($1, $2) ON CONFLICT (transfer_id) DO NOTHING",
		transferID, transferType)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s: %w", transferID, ErrConflict)
	}
	return nil
}
