// Package withdrawal implements the withdrawal request lifecycle: funds are
// held (debited) when the request is created, and the hold is either kept on
// completion, or refunded verbatim on rejection and expiry.
package withdrawal

import (
	"context"
	"fmt"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
)

type Engine struct {
	funds    store.Funds
	notifier store.Notifier
	mirror   store.AuditMirror

	fee           decimal.Decimal
	minWithdrawal decimal.Decimal
	pendingTTL    time.Duration
}

func NewEngine(funds store.Funds, notifier store.Notifier, mirror store.AuditMirror, policy models.PolicyConfig) (*Engine, error) {
	fee, err := decimal.NewFromString(policy.WithdrawalFee)
	if err != nil {
		return nil, fmt.Errorf("invalid withdrawal fee %q: %w", policy.WithdrawalFee, err)
	}
	minWithdrawal, err := decimal.NewFromString(policy.MinWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum withdrawal %q: %w", policy.MinWithdrawal, err)
	}
	return &Engine{
		funds:         funds,
		notifier:      notifier,
		mirror:        mirror,
		fee:           fee,
		minWithdrawal: minWithdrawal,
		pendingTTL:    policy.PendingTTL,
	}, nil
}

// Fee returns the fixed per-withdrawal fee.
func (e *Engine) Fee() decimal.Decimal { return e.fee }

// Create validates the request against policy, debits amount+fee, and
// records the pending request with a one-hour processing deadline.
func (e *Engine) Create(ctx context.Context, userId string, amount decimal.Decimal, usdtWallet string) (*models.WithdrawalRequest, error) {
	if usdtWallet == "" {
		return nil, fmt.Errorf("%w: destination wallet is required", store.ErrValidation)
	}
	if amount.LessThan(e.minWithdrawal) {
		return nil, fmt.Errorf("%w: minimum withdrawal is %s USDT", store.ErrPolicy, e.minWithdrawal.String())
	}

	account, err := e.funds.GetAccount(ctx, userId)
	if err != nil {
		return nil, err
	}
	if account.WithdrawalBlocked {
		reason := account.WithdrawalBlockReason
		if reason == "" {
			reason = "withdrawals are blocked for this account"
		}
		return nil, fmt.Errorf("%w: %s", store.ErrPolicy, reason)
	}
	total := amount.Add(e.fee)
	if account.Balance.LessThan(total) {
		return nil, fmt.Errorf("%w: balance %s, required %s (%s + %s fee)",
			store.ErrInsufficientFunds, account.Balance.String(), total.String(), amount.String(), e.fee.String())
	}

	request, hold, err := e.funds.CreateWithdrawal(ctx, store.CreateWithdrawalParams{
		UserId:     userId,
		Amount:     amount,
		Fee:        e.fee,
		UsdtWallet: usdtWallet,
		ExpiresAt:  time.Now().UTC().Add(e.pendingTTL),
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, userId, "withdrawal",
		"Withdrawal requested",
		fmt.Sprintf("Your withdrawal of %s USDT is pending review. %s USDT (including the %s fee) has been held.",
			amount.String(), total.String(), e.fee.String()))
	e.mirror.RecordMovement(ctx, hold)
	return request, nil
}

// AdminDecide finalizes a pending request. Only admins may decide; a request
// already decided (or expired) returns ErrConflict rather than reapplying.
func (e *Engine) AdminDecide(ctx context.Context, adminId, withdrawalId, decision, comment string) (*models.WithdrawalRequest, error) {
	isAdmin, err := e.funds.IsAdmin(ctx, adminId)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, fmt.Errorf("%w: user %s is not an admin", store.ErrAccessDenied, adminId)
	}

	request, err := e.funds.GetWithdrawal(ctx, withdrawalId)
	if err != nil {
		return nil, err
	}
	if !request.ExpiresAt.IsZero() && time.Now().UTC().After(request.ExpiresAt) && request.Status == models.WithdrawalPending {
		// Past the deadline the request belongs to the expiry sweep.
		return nil, fmt.Errorf("%w: withdrawal %s has expired and awaits the sweep", store.ErrConflict, withdrawalId)
	}

	decided, entry, err := e.funds.DecideWithdrawal(ctx, withdrawalId, decision, comment)
	if err != nil {
		return nil, err
	}

	total := decided.Amount.Add(decided.Fee)
	switch decision {
	case models.WithdrawalCompleted:
		e.notifier.Notify(ctx, decided.UserId, "withdrawal",
			"Withdrawal completed",
			fmt.Sprintf("Your withdrawal of %s USDT has been sent to %s.", decided.Amount.String(), decided.UsdtWallet))
		e.notifier.SendInboxMessage(ctx, adminId, decided.UserId,
			"Withdrawal completed", comment)
	case models.WithdrawalRejected:
		e.notifier.Notify(ctx, decided.UserId, "withdrawal",
			"Withdrawal rejected",
			fmt.Sprintf("Your withdrawal of %s USDT was rejected. %s USDT has been returned to your balance.", decided.Amount.String(), total.String()))
		e.notifier.SendInboxMessage(ctx, adminId, decided.UserId,
			"Withdrawal rejected", comment)
	}
	e.mirror.RecordMovement(ctx, entry)
	return decided, nil
}
