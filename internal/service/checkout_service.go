package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
)

// Checkout session metadata keys
const (
	metaUserID          = "userId"
	metaShopID          = "shopId"
	metaItems           = "items"
	metaCouponID        = "couponId"
	metaDiscount        = "discount"
	metaDeliveryCharge  = "deliveryCharge"
	metaShippingAddress = "shippingAddress"
	metaPaymentMethod   = "paymentMethod"
)

const defaultPaymentMethod = "card"

// VendorPayer initiates the platform-to-vendor transfer for a paid order
type VendorPayer interface {
	Enabled() bool
	TransferToVendor(ctx context.Context, order *models.Order) error
}

// CheckoutService turns completed checkouts into orders and payments
type CheckoutService struct {
	store    CheckoutStore
	notifier Notifier
	vendor   VendorPayer
	logger   *zap.Logger
}

// NewCheckoutService creates a checkout service; vendor may be nil
func NewCheckoutService(store CheckoutStore, notifier Notifier, vendor VendorPayer) *CheckoutService {
	return &CheckoutService{
		store:    store,
		notifier: notifier,
		vendor:   vendor,
		logger:   util.GetLogger(),
	}
}

// checkoutRequest is the order data carried in session metadata
type checkoutRequest struct {
	UserID          int64
	ShopID          int64
	CouponID        *int64
	Items           []models.LineItem
	Discount        decimal.Decimal
	DeliveryCharge  decimal.Decimal
	ShippingAddress json.RawMessage
	PaymentMethod   string
}

// HandleCheckoutCompleted creates exactly one order and one payment per
// payment intent.
func (s *CheckoutService) HandleCheckoutCompleted(ctx context.Context, event stripe.Event) (err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandleCheckoutCompleted")
	defer func() {
		util.RecordSpanError(span, err)
		span.End()
	}()

	raw, err := eventObject(event)
	if err != nil {
		return err
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("%w: decode checkout session: %v", ErrValidation, err)
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return fmt.Errorf("%w: checkout session %s has no payment intent", ErrValidation, session.ID)
	}
	intentID := session.PaymentIntent.ID

	req, err := parseCheckoutMetadata(session.Metadata)
	if err != nil {
		return err
	}

	existing, err := s.store.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		return fmt.Errorf("failed to check payment intent: %w", err)
	}
	if existing != nil {
		util.DuplicateCheckoutsTotal.Inc()
		return fmt.Errorf("%w: payment intent %s already recorded as payment %d",
			ErrDuplicateEvent, intentID, existing.ID)
	}

	order, items := buildOrder(req)

	amount := payments.FromMinorUnits(session.AmountTotal)
	if !amount.Equal(order.FinalAmount) {
		s.logger.Warn("Checkout amount differs from computed order total",
			zap.String("session_id", session.ID),
			zap.String("amount_total", amount.String()),
			zap.String("final_amount", order.FinalAmount.String()))
	}

	payment := &models.Payment{
		UserID:          req.UserID,
		ShopID:          req.ShopID,
		Method:          req.PaymentMethod,
		Status:          models.PaymentStatusPaid,
		TransactionID:   session.ID,
		PaymentIntentID: intentID,
		Amount:          amount,
		GatewayPayload:  auditPayload(event),
	}

	if err := s.store.CreatePaidOrder(ctx, order, items, payment); err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.DuplicateCheckoutsTotal.Inc()
			return fmt.Errorf("%w: %v", ErrDuplicateEvent, err)
		}
		return fmt.Errorf("failed to persist order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created from checkout",
		zap.String("event_id", event.ID),
		zap.String("payment_intent", intentID),
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID))

	s.notifyOrderPaid(ctx, order, payment)

	if s.vendor != nil && s.vendor.Enabled() {
		if err := s.vendor.TransferToVendor(ctx, order); err != nil {
			s.logger.Error("Vendor transfer not initiated",
				zap.Int64("order_id", order.ID),
				zap.Int64("shop_id", order.ShopID),
				zap.Error(err))
		}
	}

	return nil
}

func (s *CheckoutService) notifyOrderPaid(ctx context.Context, order *models.Order, payment *models.Payment) {
	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			UserID:    order.UserID,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		ShopID:      order.ShopID,
		PaymentID:   payment.ID,
		FinalAmount: order.FinalAmount,
	}
	if err := s.notifier.Publish(ctx, models.EventTypeOrderPaid, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func buildOrder(req *checkoutRequest) (*models.Order, []models.OrderItem) {
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, li := range req.Items {
		total = total.Add(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
		items = append(items, models.OrderItem{
			ProductID: li.ProductID,
			VariantID: li.VariantID,
			Quantity:  li.Quantity,
			UnitPrice: li.Price,
		})
	}

	order := &models.Order{
		UserID:          req.UserID,
		ShopID:          req.ShopID,
		CouponID:        req.CouponID,
		TotalAmount:     total,
		DiscountAmount:  req.Discount,
		DeliveryCharge:  req.DeliveryCharge,
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.PaymentStatusPaid,
	}
	order.ComputeFinalAmount()
	return order, items
}

func parseCheckoutMetadata(md map[string]string) (*checkoutRequest, error) {
	userID, err := requiredID(md, metaUserID)
	if err != nil {
		return nil, err
	}
	shopID, err := requiredID(md, metaShopID)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(md[metaItems])
	if raw == "" {
		return nil, fmt.Errorf("%w: metadata %s is required", ErrValidation, metaItems)
	}
	var items []models.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: metadata %s: %v", ErrValidation, metaItems, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: checkout has no line items", ErrValidation)
	}
	for i, it := range items {
		if it.ProductID <= 0 || it.Quantity <= 0 || it.Price.IsNegative() {
			return nil, fmt.Errorf("%w: line item %d is invalid", ErrValidation, i)
		}
	}

	req := &checkoutRequest{
		UserID:          userID,
		ShopID:          shopID,
		Items:           items,
		ShippingAddress: json.RawMessage(`{}`),
		PaymentMethod:   defaultPaymentMethod,
	}

	if v := strings.TrimSpace(md[metaCouponID]); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %s: %v", ErrValidation, metaCouponID, err)
		}
		req.CouponID = &id
	}
	if req.Discount, err = optionalAmount(md, metaDiscount); err != nil {
		return nil, err
	}
	if req.DeliveryCharge, err = optionalAmount(md, metaDeliveryCharge); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(md[metaShippingAddress]); v != "" {
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("%w: metadata %s is not JSON", ErrValidation, metaShippingAddress)
		}
		req.ShippingAddress = json.RawMessage(v)
	}
	if v := strings.TrimSpace(md[metaPaymentMethod]); v != "" {
		req.PaymentMethod = v
	}

	return req, nil
}

func requiredID(md map[string]string, key string) (int64, error) {
	v := strings.TrimSpace(md[key])
	if v == "" {
		return 0, fmt.Errorf("%w: metadata %s is required", ErrValidation, key)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: metadata %s=%q is not an id", ErrValidation, key, v)
	}
	return id, nil
}

func optionalAmount(md map[string]string, key string) (decimal.Decimal, error) {
	v := strings.TrimSpace(md[key])
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: metadata %s=%q is not an amount", ErrValidation, key, v)
	}
	return d, nil
}

// auditPayload keeps the event envelope fields next to the delivered object
func auditPayload(event stripe.Event) json.RawMessage {
	envelope := struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Created int64           `json:"created"`
		Object  json.RawMessage `json:"object"`
	}{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: event.Created,
	}
	if event.Data != nil {
		envelope.Object = event.Data.Raw
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
