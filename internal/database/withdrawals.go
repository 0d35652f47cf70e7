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

func scanWithdrawalRow(row dealScanner) (*models.WithdrawalRequest, error) {
	withdrawal := &models.WithdrawalRequest{}
	var amountStr, feeStr string
	var expiresAt, completedAt sql.NullTime
	err := row.Scan(&withdrawal.Id, &withdrawal.UserId, &amountStr, &feeStr,
		&withdrawal.UsdtWallet, &withdrawal.Status, &withdrawal.AdminComment,
		&withdrawal.CreatedAt, &expiresAt, &completedAt)
	if err != nil {
		return nil, err
	}
	withdrawal.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	withdrawal.Fee, err = decimal.NewFromString(feeStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fee '%s': %w", feeStr, err)
	}
	if expiresAt.Valid {
		withdrawal.ExpiresAt = expiresAt.Time
	}
	if completedAt.Valid {
		withdrawal.CompletedAt = completedAt.Time
	}
	return withdrawal, nil
}

// CreateWithdrawal debits amount+fee from the user's balance and inserts the
// pending request in one database transaction, so a crash cannot take the
// funds without leaving the record behind. The hold's ledger entry is
// returned alongside the request.
func (s *Service) CreateWithdrawal(ctx context.Context, params store.CreateWithdrawalParams) (*models.WithdrawalRequest, *models.LedgerTransaction, error) {
	withdrawalId := uuid.New().String()
	total := params.Amount.Add(params.Fee)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hold, err := s.applyBalanceChange(ctx, tx, params.UserId, total.Neg(), models.TxWithdrawalHold, withdrawalId,
		fmt.Sprintf("Hold for withdrawal of %s USDT (fee %s)", params.Amount.String(), params.Fee.String()))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, queryInsertWithdrawal,
		withdrawalId, params.UserId, params.Amount.String(), params.Fee.String(),
		params.UsdtWallet, models.WithdrawalPending, now, params.ExpiresAt.UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert withdrawal request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal request created",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("user_id", params.UserId),
		zap.String("amount", params.Amount.String()),
		zap.String("fee", params.Fee.String()),
		zap.Time("expires_at", params.ExpiresAt))

	withdrawal, err := s.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, nil, err
	}
	return withdrawal, hold, nil
}

func (s *Service) GetWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, error) {
	withdrawal, err := scanWithdrawalRow(s.db.QueryRowContext(ctx, queryGetWithdrawal, withdrawalId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: withdrawal %s", store.ErrNotFound, withdrawalId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return withdrawal, nil
}

// DecideWithdrawal finalizes a pending request. Completion moves no funds
// (the hold already left the ledger at creation); rejection refunds
// amount+fee verbatim. The pending-status guard makes a repeated decision an
// ErrConflict instead of a second refund.
func (s *Service) DecideWithdrawal(ctx context.Context, withdrawalId, decision, adminComment string) (*models.WithdrawalRequest, *models.LedgerTransaction, error) {
	if decision != models.WithdrawalCompleted && decision != models.WithdrawalRejected {
		return nil, nil, fmt.Errorf("%w: unknown decision %q", store.ErrValidation, decision)
	}
	return s.finalizeWithdrawal(ctx, withdrawalId, decision, adminComment)
}

// ExpireWithdrawal cancels a pending request whose deadline passed, refunding
// the full amount+fee hold.
func (s *Service) ExpireWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, *models.LedgerTransaction, error) {
	return s.finalizeWithdrawal(ctx, withdrawalId, models.WithdrawalCancelled, "expired without processing")
}

func (s *Service) finalizeWithdrawal(ctx context.Context, withdrawalId, toStatus, adminComment string) (*models.WithdrawalRequest, *models.LedgerTransaction, error) {
	withdrawal, err := s.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, nil, err
	}
	total := withdrawal.Amount.Add(withdrawal.Fee)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryDecideWithdrawal,
		toStatus, adminComment, time.Now().UTC(), withdrawalId, models.WithdrawalPending)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to finalize withdrawal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("%w: withdrawal %s is not pending", store.ErrConflict, withdrawalId)
	}

	var entry *models.LedgerTransaction
	switch toStatus {
	case models.WithdrawalCompleted:
		entry, err = s.appendAuditEntry(ctx, tx, withdrawal.UserId, total, models.TxWithdrawalComplete, withdrawalId,
			fmt.Sprintf("Withdrawal of %s USDT sent to %s", withdrawal.Amount.String(), withdrawal.UsdtWallet))
	case models.WithdrawalRejected, models.WithdrawalCancelled:
		entry, err = s.applyBalanceChange(ctx, tx, withdrawal.UserId, total, models.TxWithdrawalRefund, withdrawalId,
			fmt.Sprintf("Refund of withdrawal hold (%s USDT + %s fee)", withdrawal.Amount.String(), withdrawal.Fee.String()))
	}
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal finalized",
		zap.String("withdrawal_id", withdrawalId),
		zap.String("status", toStatus),
		zap.String("total", total.String()))

	finalized, err := s.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, nil, err
	}
	return finalized, entry, nil
}

func (s *Service) SelectExpiredWithdrawals(ctx context.Context, now time.Time, fallbackWindow time.Duration, limit int) ([]models.WithdrawalRequest, error) {
	cutoff := now.UTC().Add(-fallbackWindow)
	rows, err := s.db.QueryContext(ctx, querySelectExpiredWithdrawals, models.WithdrawalPending, now.UTC(), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired withdrawals: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var withdrawals []models.WithdrawalRequest
	for rows.Next() {
		withdrawal, err := scanWithdrawalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *withdrawal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}
	return withdrawals, nil
}
