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

func scanDepositRow(row dealScanner) (*models.DepositRequest, error) {
	deposit := &models.DepositRequest{}
	var amountStr string
	var expiresAt, confirmedAt sql.NullTime
	err := row.Scan(&deposit.Id, &deposit.UserId, &deposit.WalletAddress, &deposit.Network,
		&amountStr, &deposit.Status, &deposit.TxHash,
		&deposit.CreatedAt, &expiresAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	deposit.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if expiresAt.Valid {
		deposit.ExpiresAt = expiresAt.Time
	}
	if confirmedAt.Valid {
		deposit.ConfirmedAt = confirmedAt.Time
	}
	return deposit, nil
}

func (s *Service) CreateDeposit(ctx context.Context, userId, walletAddress, network string, amount decimal.Decimal, expiresAt time.Time) (*models.DepositRequest, error) {
	depositId := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, queryInsertDeposit,
		depositId, userId, walletAddress, network, amount.String(),
		models.DepositPending, now, expiresAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert deposit request: %w", err)
	}

	zap.L().Info("Deposit request created",
		zap.String("deposit_id", depositId),
		zap.String("user_id", userId),
		zap.String("network", network),
		zap.String("amount", amount.String()),
		zap.Time("expires_at", expiresAt))

	return s.GetDeposit(ctx, depositId)
}

func (s *Service) GetDeposit(ctx context.Context, depositId string) (*models.DepositRequest, error) {
	deposit, err := scanDepositRow(s.db.QueryRowContext(ctx, queryGetDeposit, depositId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: deposit %s", store.ErrNotFound, depositId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return deposit, nil
}

// ConfirmDeposit credits the user with the deposit amount and marks the
// request confirmed, in one database transaction. The status guard on pending
// means a concurrent or repeated reconcile pass finds zero rows and cannot
// credit twice. The credit's ledger entry is returned alongside the request.
func (s *Service) ConfirmDeposit(ctx context.Context, depositId, txHash string) (*models.DepositRequest, *models.LedgerTransaction, error) {
	deposit, err := s.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryConfirmDeposit,
		models.DepositConfirmed, txHash, time.Now().UTC(), depositId, models.DepositPending)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to confirm deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("%w: deposit %s is not pending", store.ErrConflict, depositId)
	}

	credit, err := s.applyBalanceChange(ctx, tx, deposit.UserId, deposit.Amount, models.TxDepositCredit, depositId,
		fmt.Sprintf("Crypto deposit %s on %s", txHash, deposit.Network))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit confirmed",
		zap.String("deposit_id", depositId),
		zap.String("user_id", deposit.UserId),
		zap.String("amount", deposit.Amount.String()),
		zap.String("tx_hash", txHash))

	confirmed, err := s.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, nil, err
	}
	return confirmed, credit, nil
}

// ExpireDeposit cancels a pending deposit past its deadline. No funds were
// ever held for a deposit request, so there is nothing to refund.
func (s *Service) ExpireDeposit(ctx context.Context, depositId string) (*models.DepositRequest, error) {
	result, err := s.db.ExecContext(ctx, queryTransitionDeposit,
		models.DepositCancelled, depositId, models.DepositPending)
	if err != nil {
		return nil, fmt.Errorf("failed to expire deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: deposit %s is not pending", store.ErrConflict, depositId)
	}

	zap.L().Info("Deposit expired", zap.String("deposit_id", depositId))
	return s.GetDeposit(ctx, depositId)
}

// MarkDepositExpiredPaid records a payment that arrived after the request was
// cancelled. Terminal and non-crediting: the funds need manual support
// resolution.
func (s *Service) MarkDepositExpiredPaid(ctx context.Context, depositId, txHash string) (*models.DepositRequest, error) {
	result, err := s.db.ExecContext(ctx, queryMarkDepositExpiredPaid,
		models.DepositExpiredPaid, txHash, depositId, models.DepositCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to mark deposit expired-paid: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: deposit %s is not cancelled", store.ErrConflict, depositId)
	}

	zap.L().Warn("Late payment on expired deposit",
		zap.String("deposit_id", depositId),
		zap.String("tx_hash", txHash))
	return s.GetDeposit(ctx, depositId)
}

func (s *Service) SelectPendingDeposits(ctx context.Context, now time.Time, limit int) ([]models.DepositRequest, error) {
	rows, err := s.db.QueryContext(ctx, querySelectPendingDeposits, models.DepositPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending deposits: %w", err)
	}
	return collectDeposits(rows)
}

func (s *Service) SelectExpiredDeposits(ctx context.Context, now time.Time, fallbackWindow time.Duration, limit int) ([]models.DepositRequest, error) {
	cutoff := now.UTC().Add(-fallbackWindow)
	rows, err := s.db.QueryContext(ctx, querySelectExpiredDeposits, models.DepositPending, now.UTC(), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired deposits: %w", err)
	}
	return collectDeposits(rows)
}

// SelectCancelledDeposits returns cancelled requests created at or after
// since. The random order rotates the selection across passes, so a backlog
// of never-paid cancellations larger than the batch cannot pin the scan to
// the same records forever.
func (s *Service) SelectCancelledDeposits(ctx context.Context, since time.Time, limit int) ([]models.DepositRequest, error) {
	rows, err := s.db.QueryContext(ctx, querySelectCancelledDeposits, models.DepositCancelled, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select cancelled deposits: %w", err)
	}
	return collectDeposits(rows)
}

func collectDeposits(rows *sql.Rows) ([]models.DepositRequest, error) {
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var deposits []models.DepositRequest
	for rows.Next() {
		deposit, err := scanDepositRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, *deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}
	return deposits, nil
}
