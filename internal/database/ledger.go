package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateAccount inserts a new account with a zero balance. Existing ids are
// left untouched.
func (s *Service) CreateAccount(ctx context.Context, userId, name, email string, isAdmin bool) (*models.Account, error) {
	if _, err := s.db.ExecContext(ctx, queryInsertAccount, userId, name, email, isAdmin); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return s.GetAccount(ctx, userId)
}

func (s *Service) GetAccount(ctx context.Context, userId string) (*models.Account, error) {
	account := &models.Account{}
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetAccount, userId).Scan(
		&account.Id, &account.Name, &account.Email, &balanceStr,
		&account.WithdrawalBlocked, &account.WithdrawalBlockReason,
		&account.IsAdmin, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, userId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return account, nil
}

func (s *Service) GetBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userId)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (s *Service) IsAdmin(ctx context.Context, userId string) (bool, error) {
	account, err := s.GetAccount(ctx, userId)
	if err != nil {
		return false, err
	}
	return account.IsAdmin, nil
}

// SetWithdrawalBlocked toggles the account's withdrawal block flag.
func (s *Service) SetWithdrawalBlocked(ctx context.Context, userId string, blocked bool, reason string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET withdrawal_blocked = ?, withdrawal_block_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		blocked, reason, userId)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal block: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, userId)
	}
	return nil
}

// applyBalanceChange mutates an account balance inside the caller's database
// transaction and appends the matching ledger entry. The balance update is
// guarded by the account's version column; a lost race surfaces as
// ErrConcurrentModification and a result below zero as ErrInsufficientFunds.
func (s *Service) applyBalanceChange(ctx context.Context, tx *sql.Tx, accountId string, delta decimal.Decimal, txType, reference, description string) (*models.LedgerTransaction, error) {
	var balanceStr string
	var version int64
	err := tx.QueryRowContext(ctx, queryGetBalanceForUpdate, accountId).Scan(&balanceStr, &version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	currentBalance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current balance '%s': %w", balanceStr, err)
	}

	newBalance := currentBalance.Add(delta)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, change %s", store.ErrInsufficientFunds, currentBalance.String(), delta.String())
	}

	entry := &models.LedgerTransaction{
		Id:            uuid.New().String(),
		AccountId:     accountId,
		Type:          txType,
		Amount:        delta,
		BalanceBefore: currentBalance,
		BalanceAfter:  newBalance,
		Reference:     reference,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, queryInsertLedgerTransaction,
		entry.Id, entry.AccountId, entry.Type, entry.Amount.String(),
		entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.Reference, entry.Description, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateBalance, newBalance.String(), accountId, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Info("Balance changed",
		zap.String("account_id", accountId),
		zap.String("type", txType),
		zap.String("delta", delta.String()),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return entry, nil
}

// appendAuditEntry records a ledger entry that moves no funds
// (balance_before equals balance_after).
func (s *Service) appendAuditEntry(ctx context.Context, tx *sql.Tx, accountId string, amount decimal.Decimal, txType, reference, description string) (*models.LedgerTransaction, error) {
	var balanceStr string
	var version int64
	err := tx.QueryRowContext(ctx, queryGetBalanceForUpdate, accountId).Scan(&balanceStr, &version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current balance '%s': %w", balanceStr, err)
	}

	entry := &models.LedgerTransaction{
		Id:            uuid.New().String(),
		AccountId:     accountId,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance,
		Reference:     reference,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, queryInsertLedgerTransaction,
		entry.Id, entry.AccountId, entry.Type, entry.Amount.String(),
		entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.Reference, entry.Description, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}
	return entry, nil
}

func (s *Service) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.LedgerTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.LedgerTransaction
	for rows.Next() {
		var entry models.LedgerTransaction
		var amountStr, beforeStr, afterStr string
		err := rows.Scan(&entry.Id, &entry.AccountId, &entry.Type,
			&amountStr, &beforeStr, &afterStr,
			&entry.Reference, &entry.Description, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		entry.BalanceBefore, err = decimal.NewFromString(beforeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance before '%s': %w", beforeStr, err)
		}
		entry.BalanceAfter, err = decimal.NewFromString(afterStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", afterStr, err)
		}

		transactions = append(transactions, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}
