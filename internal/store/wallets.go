package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
)

// GetWalletByUserID retrieves the wallet owned by a user
func (s *Store) GetWalletByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.GetContext(ctx, &wallet, "SELECT * FROM wallets WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ApplyWithdrawal debits the withdrawable balance and adds the same amount to
// lifetime withdrawals. The transfer id is recorded in the same transaction;
// ErrConflict means the transfer was applied before.
func (s *Store) ApplyWithdrawal(ctx context.Context, transferID string, walletID int64, amount decimal.Decimal) (*models.Wallet, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := claimTransfer(ctx, tx, transferID, models.TransferTypeWithdraw); err != nil {
		return nil, err
	}

	var wallet models.Wallet
	err = tx.GetContext(ctx, &wallet, `
		UPDATE wallets
		SET total_available_balance_to_withdraw = total_available_balance_to_withdraw - $1,
		    total_life_time_withdrawal = total_life_time_withdrawal + $1,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING *`,
		amount, walletID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &wallet, nil
}
