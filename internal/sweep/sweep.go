// Package sweep runs the periodic reconciliation pass: it cancels expired
// deposit and withdrawal requests (with compensating refunds where funds were
// held) and drives pending deposits through on-chain confirmation.
package sweep

import (
	"context"
	"fmt"
	"time"

	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/store"

	"go.uber.org/zap"
)

type Sweeper struct {
	funds    store.Funds
	deposits *deposit.Engine
	notifier store.Notifier
	mirror   store.AuditMirror

	batchSize      int
	fallbackWindow time.Duration
}

func NewSweeper(funds store.Funds, deposits *deposit.Engine, notifier store.Notifier, mirror store.AuditMirror,
	batchSize int, fallbackWindow time.Duration) *Sweeper {
	return &Sweeper{
		funds:          funds,
		deposits:       deposits,
		notifier:       notifier,
		mirror:         mirror,
		batchSize:      batchSize,
		fallbackWindow: fallbackWindow,
	}
}

// Result aggregates one sweep pass.
type Result struct {
	Processed int
	Confirmed int
	Expired   int
	LatePaid  int
	Failed    int
}

// Run executes one full pass. Every record is finalized in its own store
// transaction, so a poison record is logged and counted without blocking the
// rest of the batch, and re-running against already-finalized records is a
// no-op because the selection predicates only match pending state.
func (s *Sweeper) Run(ctx context.Context) Result {
	started := time.Now()
	sweepRuns.Inc()

	now := time.Now().UTC()
	var result Result

	s.expireWithdrawals(ctx, now, &result)
	s.expireDeposits(ctx, now, &result)

	reconciled := s.deposits.Reconcile(ctx, now, s.batchSize)
	result.Processed += reconciled.Checked
	result.Confirmed += reconciled.Confirmed
	result.LatePaid += reconciled.LatePaid
	result.Failed += reconciled.Failed

	sweepRecords.WithLabelValues("confirmed").Add(float64(result.Confirmed))
	sweepRecords.WithLabelValues("expired").Add(float64(result.Expired))
	sweepRecords.WithLabelValues("late_paid").Add(float64(result.LatePaid))
	sweepRecords.WithLabelValues("failed").Add(float64(result.Failed))
	sweepDuration.Observe(time.Since(started).Seconds())

	zap.L().Info("Sweep pass finished",
		zap.Int("processed", result.Processed),
		zap.Int("confirmed", result.Confirmed),
		zap.Int("expired", result.Expired),
		zap.Int("late_paid", result.LatePaid),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(started)))

	return result
}

func (s *Sweeper) expireWithdrawals(ctx context.Context, now time.Time, result *Result) {
	expired, err := s.funds.SelectExpiredWithdrawals(ctx, now, s.fallbackWindow, s.batchSize)
	if err != nil {
		zap.L().Error("Failed to select expired withdrawals", zap.Error(err))
		result.Failed++
		return
	}

	for _, request := range expired {
		result.Processed++
		cancelled, refund, err := s.funds.ExpireWithdrawal(ctx, request.Id)
		if err != nil {
			zap.L().Error("Failed to expire withdrawal",
				zap.String("withdrawal_id", request.Id),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Expired++

		total := cancelled.Amount.Add(cancelled.Fee)
		s.notifier.Notify(ctx, cancelled.UserId, "withdrawal",
			"Withdrawal expired",
			fmt.Sprintf("Your withdrawal of %s USDT was not processed in time and has been cancelled. %s USDT has been returned to your balance.",
				cancelled.Amount.String(), total.String()))
		s.mirror.RecordMovement(ctx, refund)
	}
}

func (s *Sweeper) expireDeposits(ctx context.Context, now time.Time, result *Result) {
	expired, err := s.funds.SelectExpiredDeposits(ctx, now, s.fallbackWindow, s.batchSize)
	if err != nil {
		zap.L().Error("Failed to select expired deposits", zap.Error(err))
		result.Failed++
		return
	}

	for _, request := range expired {
		result.Processed++
		cancelled, err := s.funds.ExpireDeposit(ctx, request.Id)
		if err != nil {
			zap.L().Error("Failed to expire deposit",
				zap.String("deposit_id", request.Id),
				zap.Error(err))
			result.Failed++
			continue
		}
		result.Expired++

		// No refund: deposit requests never held funds.
		s.notifier.Notify(ctx, cancelled.UserId, "deposit",
			"Deposit request expired",
			fmt.Sprintf("Your deposit request for %s USDT expired without a matching payment and has been cancelled.",
				cancelled.Amount.String()))
	}
}
