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

// Transfer metadata keys
const (
	metaTransferType = "type"
	metaOrderID      = "orderId"
	metaWalletID     = "walletId"
	metaAmount       = "amount"
)

// TransferService applies the settlement effect of created transfers
type TransferService struct {
	store    TransferStore
	notifier Notifier
	logger   *zap.Logger
}

// NewTransferService creates a transfer service
func NewTransferService(store TransferStore, notifier Notifier) *TransferService {
	return &TransferService{
		store:    store,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// HandleTransferCreated flags vendor payouts on their order and debits
// wallets for withdrawals, once per transfer id.
func (s *TransferService) HandleTransferCreated(ctx context.Context, event stripe.Event) (err error) {
	ctx, span := util.StartSpan(ctx, "TransferService.HandleTransferCreated")
	defer func() {
		util.RecordSpanError(span, err)
		span.End()
	}()

	raw, err := eventObject(event)
	if err != nil {
		return err
	}
	var transfer stripe.Transfer
	if err := json.Unmarshal(raw, &transfer); err != nil {
		return fmt.Errorf("%w: decode transfer: %v", ErrValidation, err)
	}
	if transfer.ID == "" {
		return fmt.Errorf("%w: transfer id is missing", ErrValidation)
	}

	transferType := strings.ToUpper(strings.TrimSpace(transfer.Metadata[metaTransferType]))
	switch transferType {
	case models.TransferTypeVendor:
		return s.applyVendorTransfer(ctx, &transfer)
	case models.TransferTypeWithdraw:
		return s.applyWithdrawal(ctx, &transfer)
	case "":
		s.logger.Info("Transfer without settlement type ignored", zap.String("transfer_id", transfer.ID))
		return nil
	default:
		return fmt.Errorf("%w: transfer %s has unknown type %q", ErrValidation, transfer.ID, transferType)
	}
}

func (s *TransferService) applyVendorTransfer(ctx context.Context, transfer *stripe.Transfer) error {
	orderID, err := metadataID(transfer.Metadata, metaOrderID)
	if err != nil {
		return err
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return translateLookupErr(err)
	}

	if err := s.store.ApplyVendorTransfer(ctx, transfer.ID, orderID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: transfer %s already applied", ErrDuplicateEvent, transfer.ID)
		}
		return translateLookupErr(err)
	}

	util.TransfersAppliedTotal.WithLabelValues(models.TransferTypeVendor).Inc()
	s.logger.Info("Order funds transferred to vendor",
		zap.String("transfer_id", transfer.ID),
		zap.Int64("order_id", orderID))

	recipient := order.UserID
	if shop, err := s.store.GetShopByID(ctx, order.ShopID); err == nil {
		recipient = shop.OwnerID
	}
	s.publish(ctx, models.EventTypeTransferSettled, &models.TransferSettledEvent{
		BaseEvent:  newBaseEvent(models.EventTypeTransferSettled, recipient),
		OrderID:    orderID,
		TransferID: transfer.ID,
	})
	return nil
}

func (s *TransferService) applyWithdrawal(ctx context.Context, transfer *stripe.Transfer) error {
	walletID, err := metadataID(transfer.Metadata, metaWalletID)
	if err != nil {
		return err
	}
	amount, err := transferAmount(transfer)
	if err != nil {
		return err
	}

	wallet, err := s.store.ApplyWithdrawal(ctx, transfer.ID, walletID, amount)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: transfer %s already applied", ErrDuplicateEvent, transfer.ID)
		}
		return translateLookupErr(err)
	}

	util.TransfersAppliedTotal.WithLabelValues(models.TransferTypeWithdraw).Inc()
	s.logger.Info("Wallet debited for withdrawal",
		zap.String("transfer_id", transfer.ID),
		zap.Int64("wallet_id", walletID),
		zap.String("amount", amount.String()),
		zap.String("available", wallet.TotalAvailableBalanceToWithdraw.String()))

	s.publish(ctx, models.EventTypeWalletWithdrawn, &models.WalletWithdrawnEvent{
		BaseEvent:  newBaseEvent(models.EventTypeWalletWithdrawn, wallet.UserID),
		WalletID:   walletID,
		TransferID: transfer.ID,
		Amount:     amount,
	})
	return nil
}

func (s *TransferService) publish(ctx context.Context, topic string, payload interface{}) {
	if err := s.notifier.Publish(ctx, topic, payload); err != nil {
		s.logger.Error("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// transferAmount prefers the major-unit amount in metadata and falls back to
// the transfer's own amount in minor units.
func transferAmount(transfer *stripe.Transfer) (decimal.Decimal, error) {
	if v := strings.TrimSpace(transfer.Metadata[metaAmount]); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: transfer %s amount %q", ErrValidation, transfer.ID, v)
		}
		return d, nil
	}
	if transfer.Amount <= 0 {
		return decimal.Zero, fmt.Errorf("%w: transfer %s has no amount", ErrValidation, transfer.ID)
	}
	return payments.FromMinorUnits(transfer.Amount), nil
}

func metadataID(md map[string]string, key string) (int64, error) {
	v := strings.TrimSpace(md[key])
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: metadata %s=%q is not an id", ErrValidation, key, v)
	}
	return id, nil
}

func translateLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func newBaseEvent(eventType string, userID int64) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}
