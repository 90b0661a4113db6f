package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"marketplace-service/internal/models"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// PayoutService starts outbound transfers: the vendor share of paid orders
// and wallet withdrawals. The matching transfer.created webhook settles them.
type PayoutService struct {
	store      PayoutStore
	gateway    PayoutGateway
	currency   string
	feePercent decimal.Decimal
	enabled    bool
	logger     *zap.Logger
}

// NewPayoutService creates a payout service
func NewPayoutService(store PayoutStore, gateway PayoutGateway, currency string, feePercent decimal.Decimal, vendorTransfers bool) *PayoutService {
	return &PayoutService{
		store:      store,
		gateway:    gateway,
		currency:   currency,
		feePercent: feePercent,
		enabled:    vendorTransfers,
		logger:     util.GetLogger(),
	}
}

// Enabled reports whether paid orders trigger a vendor transfer
func (s *PayoutService) Enabled() bool {
	return s.enabled
}

// SplitFee splits an order amount into the platform fee and the vendor share
func (s *PayoutService) SplitFee(amount decimal.Decimal) (fee, vendor decimal.Decimal) {
	fee = amount.Mul(s.feePercent).Div(hundred).Round(2)
	return fee, amount.Sub(fee)
}

// TransferToVendor sends the vendor share of a paid order to the shop's
// connected account.
func (s *PayoutService) TransferToVendor(ctx context.Context, order *models.Order) (err error) {
	ctx, span := util.StartSpan(ctx, "PayoutService.TransferToVendor")
	defer func() {
		util.RecordSpanError(span, err)
		span.End()
		outcome := "initiated"
		if err != nil {
			outcome = "failed"
		}
		util.VendorTransfersTotal.WithLabelValues(outcome).Inc()
	}()

	shop, err := s.store.GetShopByID(ctx, order.ShopID)
	if err != nil {
		return translateLookupErr(err)
	}
	if shop.StripeAccountID == nil || *shop.StripeAccountID == "" {
		return fmt.Errorf("%w: shop %d has no connected account", ErrValidation, shop.ID)
	}

	account, err := s.gateway.GetAccount(ctx, *shop.StripeAccountID)
	if err != nil {
		return err
	}
	if !account.PayoutsEnabled {
		return fmt.Errorf("%w: account %s cannot receive payouts", ErrValidation, account.ID)
	}

	_, vendorShare := s.SplitFee(order.FinalAmount)
	amount := payments.ToMinorUnits(vendorShare)
	if amount <= 0 {
		return fmt.Errorf("%w: order %d has nothing to transfer", ErrValidation, order.ID)
	}

	available, err := s.gateway.GetAvailableBalance(ctx, s.currency)
	if err != nil {
		return err
	}
	if available < amount {
		return fmt.Errorf("%w: need %d, platform has %d", ErrInsufficientFunds, amount, available)
	}

	tr, err := s.gateway.CreateTransfer(ctx, payments.TransferRequest{
		DestinationAccount: *shop.StripeAccountID,
		Amount:             amount,
		Currency:           s.currency,
		Metadata: map[string]string{
			metaOrderID:      strconv.FormatInt(order.ID, 10),
			metaTransferType: models.TransferTypeVendor,
			metaAmount:       vendorShare.StringFixed(2),
		},
		IdempotencyKey: fmt.Sprintf("order-%d-vendor-transfer", order.ID),
	})
	if err != nil {
		return err
	}

	s.logger.Info("Vendor transfer initiated",
		zap.Int64("order_id", order.ID),
		zap.Int64("shop_id", shop.ID),
		zap.String("transfer_id", tr.ID),
		zap.String("amount", vendorShare.StringFixed(2)))
	return nil
}

// WithdrawalRequest asks to move available wallet balance to the user's bank
type WithdrawalRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	IdempotencyKey string
}

// WithdrawalResult identifies the Stripe objects created for a withdrawal
type WithdrawalResult struct {
	WalletID   int64  `json:"wallet_id"`
	TransferID string `json:"transfer_id"`
	PayoutID   string `json:"payout_id,omitempty"`
	Amount     string `json:"amount"`
}

// RequestWithdrawal transfers funds to the user's connected account and pays
// them out. The wallet is debited when the transfer webhook arrives.
func (s *PayoutService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (res *WithdrawalResult, err error) {
	ctx, span := util.StartSpan(ctx, "PayoutService.RequestWithdrawal")
	defer func() {
		util.RecordSpanError(span, err)
		span.End()
		outcome := "initiated"
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			outcome = "insufficient_funds"
		case err != nil:
			outcome = "failed"
		}
		util.WithdrawalsRequestedTotal.WithLabelValues(outcome).Inc()
	}()

	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrValidation)
	}

	wallet, err := s.store.GetWalletByUserID(ctx, req.UserID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	if amount.GreaterThan(wallet.TotalAvailableBalanceToWithdraw) {
		return nil, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientFunds, amount.StringFixed(2), wallet.TotalAvailableBalanceToWithdraw.StringFixed(2))
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, translateLookupErr(err)
	}
	if user.StripeAccountID == nil || *user.StripeAccountID == "" {
		return nil, fmt.Errorf("%w: user %d has no connected account", ErrValidation, user.ID)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	minor := payments.ToMinorUnits(amount)

	tr, err := s.gateway.CreateTransfer(ctx, payments.TransferRequest{
		DestinationAccount: *user.StripeAccountID,
		Amount:             minor,
		Currency:           s.currency,
		Metadata: map[string]string{
			metaWalletID:     strconv.FormatInt(wallet.ID, 10),
			metaTransferType: models.TransferTypeWithdraw,
			metaAmount:       amount.StringFixed(2),
		},
		IdempotencyKey: "withdrawal-" + key,
	})
	if err != nil {
		return nil, err
	}

	res = &WithdrawalResult{
		WalletID:   wallet.ID,
		TransferID: tr.ID,
		Amount:     amount.StringFixed(2),
	}

	po, err := s.gateway.CreatePayout(ctx, *user.StripeAccountID, minor, s.currency)
	if err != nil {
		// The transfer already reached the connected account; Stripe's
		// automatic payout schedule still moves it to the bank.
		s.logger.Error("Payout not created after withdrawal transfer",
			zap.Int64("user_id", user.ID),
			zap.String("transfer_id", tr.ID),
			zap.Error(err))
		return res, nil
	}
	res.PayoutID = po.ID

	s.logger.Info("Withdrawal initiated",
		zap.Int64("user_id", user.ID),
		zap.Int64("wallet_id", wallet.ID),
		zap.String("transfer_id", tr.ID),
		zap.String("payout_id", po.ID),
		zap.String("amount", res.Amount))
	return res, nil
}
