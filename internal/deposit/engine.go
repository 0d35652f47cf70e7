// Package deposit implements crypto top-up requests and their confirmation
// against the external chain ledger.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine struct {
	funds    store.Funds
	scanner  store.ChainScanner
	notifier store.Notifier
	mirror   store.AuditMirror

	wallets    map[string]models.ReceivingWallet
	pendingTTL time.Duration

	// lookback bounds the late-payment scan over cancelled requests; a
	// payment older than this is no longer visible on chain anyway.
	lookback time.Duration
}

func NewEngine(funds store.Funds, scanner store.ChainScanner, notifier store.Notifier, mirror store.AuditMirror,
	wallets []models.ReceivingWallet, pendingTTL, lookback time.Duration) *Engine {
	byNetwork := make(map[string]models.ReceivingWallet, len(wallets))
	for _, wallet := range wallets {
		byNetwork[wallet.Network] = wallet
	}
	return &Engine{
		funds:      funds,
		scanner:    scanner,
		notifier:   notifier,
		mirror:     mirror,
		wallets:    byNetwork,
		pendingTTL: pendingTTL,
		lookback:   lookback,
	}
}

// Submit records a pending deposit with the platform's receiving wallet for
// the chosen network. No balance effect until the transfer is confirmed
// on-chain.
func (e *Engine) Submit(ctx context.Context, userId string, amount decimal.Decimal, network string) (*models.DepositRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, amount.String())
	}
	wallet, ok := e.wallets[network]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported network %q", store.ErrValidation, network)
	}

	deposit, err := e.funds.CreateDeposit(ctx, userId, wallet.Address, network, amount,
		time.Now().UTC().Add(e.pendingTTL))
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, userId, "deposit",
		"Deposit pending",
		fmt.Sprintf("Send %s USDT to %s on %s within %s. The deposit is credited after on-chain confirmation.",
			amount.String(), wallet.Address, network, e.pendingTTL))
	return deposit, nil
}

// ReconcileResult aggregates one reconcile pass for observability.
type ReconcileResult struct {
	Checked   int
	Confirmed int
	LatePaid  int
	Failed    int
}

// Reconcile drives pending deposits forward against the chain ledger and
// flags late payments on already-cancelled requests. Each record is handled
// independently: a scanner outage or a bad record is logged and counted, and
// the pass continues.
func (e *Engine) Reconcile(ctx context.Context, now time.Time, batchSize int) ReconcileResult {
	var result ReconcileResult

	pending, err := e.funds.SelectPendingDeposits(ctx, now, batchSize)
	if err != nil {
		zap.L().Error("Failed to select pending deposits", zap.Error(err))
		result.Failed++
		return result
	}
	for _, deposit := range pending {
		result.Checked++
		confirmed, failed := e.confirmIfMatched(ctx, deposit)
		if confirmed {
			result.Confirmed++
		}
		if failed {
			result.Failed++
		}
	}

	cancelled, err := e.funds.SelectCancelledDeposits(ctx, now.Add(-e.lookback), batchSize)
	if err != nil {
		zap.L().Error("Failed to select cancelled deposits", zap.Error(err))
		result.Failed++
		return result
	}
	for _, deposit := range cancelled {
		result.Checked++
		matched, failed := e.flagIfPaidLate(ctx, deposit)
		if matched {
			result.LatePaid++
		}
		if failed {
			result.Failed++
		}
	}

	return result
}

// confirmIfMatched looks the deposit up on chain and, on a match, credits the
// user exactly once through the status-guarded store confirmation.
func (e *Engine) confirmIfMatched(ctx context.Context, deposit models.DepositRequest) (matched, failed bool) {
	match, err := e.scanner.FindMatchingTransfer(ctx, deposit.WalletAddress, deposit.Amount, deposit.CreatedAt)
	if err != nil {
		// An unreachable chain ledger means "not confirmed yet"; the next
		// pass retries.
		if errors.Is(err, store.ErrExternalUnavailable) {
			zap.L().Warn("Chain lookup unavailable, deposit stays pending",
				zap.String("deposit_id", deposit.Id),
				zap.Error(err))
			return false, false
		}
		zap.L().Error("Chain lookup failed",
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
		return false, true
	}
	if match == nil {
		return false, false
	}

	confirmed, credit, err := e.funds.ConfirmDeposit(ctx, deposit.Id, match.TxHash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another reconcile pass got there first.
			return false, false
		}
		zap.L().Error("Failed to confirm matched deposit",
			zap.String("deposit_id", deposit.Id),
			zap.String("tx_hash", match.TxHash),
			zap.Error(err))
		return false, true
	}

	e.notifier.Notify(ctx, confirmed.UserId, "deposit",
		"Deposit confirmed",
		fmt.Sprintf("Your deposit of %s USDT has been confirmed (tx %s) and credited to your balance.",
			confirmed.Amount.String(), match.TxHash))
	e.mirror.RecordMovement(ctx, credit)
	return true, false
}

// flagIfPaidLate checks a cancelled deposit for a payment that arrived after
// expiry. Such a payment is recorded but never credited.
func (e *Engine) flagIfPaidLate(ctx context.Context, deposit models.DepositRequest) (matched, failed bool) {
	match, err := e.scanner.FindMatchingTransfer(ctx, deposit.WalletAddress, deposit.Amount, deposit.CreatedAt)
	if err != nil {
		if errors.Is(err, store.ErrExternalUnavailable) {
			return false, false
		}
		zap.L().Error("Chain lookup failed for cancelled deposit",
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
		return false, true
	}
	if match == nil {
		return false, false
	}

	flagged, err := e.funds.MarkDepositExpiredPaid(ctx, deposit.Id, match.TxHash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, false
		}
		zap.L().Error("Failed to flag late-paid deposit",
			zap.String("deposit_id", deposit.Id),
			zap.Error(err))
		return false, true
	}

	e.notifier.Notify(ctx, flagged.UserId, "deposit",
		"Payment received after expiry",
		fmt.Sprintf("Your payment of %s USDT (tx %s) arrived after the deposit request expired and was NOT credited. Please contact support.",
			flagged.Amount.String(), match.TxHash))
	return true, false
}
