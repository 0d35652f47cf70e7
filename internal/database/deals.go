package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type dealScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row dealScanner) (*models.Deal, error) {
	deal := &models.Deal{}
	var priceStr string
	var completedAt sql.NullTime
	err := row.Scan(&deal.Id, &deal.SellerId, &deal.BuyerId, &deal.Title,
		&deal.Description, &priceStr, &deal.Status, &deal.Flow,
		&deal.DisputeReason, &deal.CreatedAt, &deal.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	deal.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price '%s': %w", priceStr, err)
	}
	if completedAt.Valid {
		deal.CompletedAt = completedAt.Time
	}
	return deal, nil
}

func (s *Service) CreateDeal(ctx context.Context, params store.CreateDealParams) (*models.Deal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dealId := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, queryInsertDeal,
		dealId, params.SellerId, params.Title, params.Description,
		params.Price.String(), models.DealOpen, params.Flow, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deal: %w", err)
	}

	if err := s.insertDealMessageTx(ctx, tx, dealId, "", "Deal created", true); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deal created",
		zap.String("deal_id", dealId),
		zap.String("seller_id", params.SellerId),
		zap.String("price", params.Price.String()),
		zap.String("flow", params.Flow))

	return s.GetDeal(ctx, dealId)
}

func (s *Service) GetDeal(ctx context.Context, dealId string) (*models.Deal, error) {
	deal, err := scanDeal(s.db.QueryRowContext(ctx, queryGetDeal, dealId))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: deal %s", store.ErrNotFound, dealId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

// AcceptDeal claims an open deal for a buyer. The conditional update makes
// the claim race-free: of N concurrent accepts exactly one changes the row,
// the rest see zero rows affected and get ErrConflict.
func (s *Service) AcceptDeal(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryAcceptDeal, buyerId, models.DealAccepted, dealId, models.DealOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to accept deal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM deals WHERE id = ?`, dealId).Scan(new(string)); err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: deal %s", store.ErrNotFound, dealId)
		}
		return nil, fmt.Errorf("%w: deal %s is not open for acceptance", store.ErrConflict, dealId)
	}

	if err := s.insertDealMessageTx(ctx, tx, dealId, "", "Deal accepted by buyer", true); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deal accepted",
		zap.String("deal_id", dealId),
		zap.String("buyer_id", buyerId))

	return s.GetDeal(ctx, dealId)
}

// TransitionDeal applies one guarded status transition and appends the system
// message recording it, in a single database transaction.
func (s *Service) TransitionDeal(ctx context.Context, params store.DealTransitionParams) (*models.Deal, error) {
	if len(params.FromStatuses) == 0 {
		return nil, fmt.Errorf("%w: transition requires at least one origin status", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params.FromStatuses)), ", ")
	update := fmt.Sprintf(`
		UPDATE deals
		SET status = ?, dispute_reason = CASE WHEN ? != '' THEN ? ELSE dispute_reason END, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (%s)`, placeholders)
	args := append([]any{params.ToStatus, params.DisputeReason, params.DisputeReason, params.DealId},
		statusArgs(params.FromStatuses)...)

	result, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition deal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM deals WHERE id = ?`, params.DealId).Scan(new(string)); err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: deal %s", store.ErrNotFound, params.DealId)
		}
		return nil, fmt.Errorf("%w: deal %s cannot move to %s from its current status", store.ErrConflict, params.DealId, params.ToStatus)
	}

	if params.SystemMessage != "" {
		if err := s.insertDealMessageTx(ctx, tx, params.DealId, "", params.SystemMessage, true); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deal transitioned",
		zap.String("deal_id", params.DealId),
		zap.String("to_status", params.ToStatus))

	return s.GetDeal(ctx, params.DealId)
}

func statusArgs(statuses []string) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}

// CompleteDeal flips the deal into completed and credits the seller's balance
// with the deal price, all in one database transaction. The status guard only
// matches the two states from which completion is legal, so a retried or
// duplicate call finds zero rows and cannot pay out twice. The payout's
// ledger entry is returned alongside the deal.
func (s *Service) CompleteDeal(ctx context.Context, dealId string, systemMessage string) (*models.Deal, *models.LedgerTransaction, error) {
	deal, err := s.GetDeal(ctx, dealId)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, queryCompleteDeal,
		models.DealCompleted, now, dealId,
		models.DealPaymentConfirmed, models.DealSellerConfirmed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to complete deal: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil, fmt.Errorf("%w: deal %s is not ready for completion", store.ErrConflict, dealId)
	}

	// Seller payout rides the same transaction as the status flip, so a
	// crash cannot separate the two.
	payout, err := s.applyBalanceChange(ctx, tx, deal.SellerId, deal.Price, models.TxDealPayout, dealId,
		fmt.Sprintf("Payout for deal %q", deal.Title))
	if err != nil {
		return nil, nil, err
	}

	message := systemMessage
	if message == "" {
		message = "Deal completed, seller paid"
	}
	if err := s.insertDealMessageTx(ctx, tx, dealId, "", message, true); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deal completed",
		zap.String("deal_id", dealId),
		zap.String("seller_id", deal.SellerId),
		zap.String("payout", deal.Price.String()))

	completed, err := s.GetDeal(ctx, dealId)
	if err != nil {
		return nil, nil, err
	}
	return completed, payout, nil
}

func (s *Service) insertDealMessageTx(ctx context.Context, tx *sql.Tx, dealId, userId, text string, isSystem bool) error {
	_, err := tx.ExecContext(ctx, queryInsertDealMessage,
		uuid.New().String(), dealId, userId, text, isSystem, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert deal message: %w", err)
	}
	return nil
}

func (s *Service) AppendDealMessage(ctx context.Context, dealId, userId, text string, isSystem bool) (*models.DealMessage, error) {
	message := &models.DealMessage{
		Id:        uuid.New().String(),
		DealId:    dealId,
		UserId:    userId,
		Message:   text,
		IsSystem:  isSystem,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, queryInsertDealMessage,
		message.Id, message.DealId, message.UserId, message.Message, message.IsSystem, message.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deal message: %w", err)
	}
	return message, nil
}

func (s *Service) GetDealMessages(ctx context.Context, dealId string) ([]models.DealMessage, error) {
	rows, err := s.db.QueryContext(ctx, queryGetDealMessages, dealId)
	if err != nil {
		return nil, fmt.Errorf("failed to get deal messages: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var messages []models.DealMessage
	for rows.Next() {
		var message models.DealMessage
		if err := rows.Scan(&message.Id, &message.DealId, &message.UserId,
			&message.Message, &message.IsSystem, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deal message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deal message rows: %w", err)
	}
	return messages, nil
}
