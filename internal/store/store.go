package store

import (
	"context"
	"errors"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all engine and backend implementations.
// Callers classify failures with errors.Is; backends wrap these with %w and
// context.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrAccessDenied           = errors.New("access denied")
	ErrConflict               = errors.New("conflict with current state")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrPolicy                 = errors.New("policy violation")
	ErrExternalUnavailable    = errors.New("external service unavailable")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
)

// CreateDealParams contains the parameters for opening a new deal.
type CreateDealParams struct {
	SellerId    string
	Title       string
	Description string
	Price       decimal.Decimal
	Flow        string
}

// DealTransitionParams describes one guarded status transition. The update
// applies only when the deal's current status is in FromStatuses; zero rows
// affected surfaces as ErrConflict. SystemMessage is appended to the deal
// thread in the same database transaction.
type DealTransitionParams struct {
	DealId        string
	FromStatuses  []string
	ToStatus      string
	SystemMessage string
	DisputeReason string
}

// Deals is the durable deal repository together with its guarded transitions.
type Deals interface {
	CreateDeal(ctx context.Context, params CreateDealParams) (*models.Deal, error)
	GetDeal(ctx context.Context, dealId string) (*models.Deal, error)
	// AcceptDeal atomically sets the buyer on an open, unclaimed deal.
	// Exactly one of any number of concurrent calls succeeds.
	AcceptDeal(ctx context.Context, dealId, buyerId string) (*models.Deal, error)
	TransitionDeal(ctx context.Context, params DealTransitionParams) (*models.Deal, error)
	// CompleteDeal flips the deal to completed and credits the seller's
	// balance in one database transaction, guarded so a repeated call
	// cannot pay out twice. The returned ledger entry records the payout.
	CompleteDeal(ctx context.Context, dealId string, systemMessage string) (*models.Deal, *models.LedgerTransaction, error)
	AppendDealMessage(ctx context.Context, dealId, userId, text string, isSystem bool) (*models.DealMessage, error)
	GetDealMessages(ctx context.Context, dealId string) ([]models.DealMessage, error)
}

// CreateWithdrawalParams contains the parameters for a new withdrawal request.
type CreateWithdrawalParams struct {
	UserId     string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	UsdtWallet string
	ExpiresAt  time.Time
}

// Funds is the durable money side of the platform: accounts, the transaction
// ledger, and the deposit/withdrawal request tables.
type Funds interface {
	GetAccount(ctx context.Context, userId string) (*models.Account, error)
	GetBalance(ctx context.Context, userId string) (decimal.Decimal, error)
	IsAdmin(ctx context.Context, userId string) (bool, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.LedgerTransaction, error)

	// CreateWithdrawal debits amount+fee and inserts the pending request in
	// one database transaction. The returned ledger entry records the hold.
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.WithdrawalRequest, *models.LedgerTransaction, error)
	GetWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, error)
	// DecideWithdrawal finalizes a pending request. Decision is
	// models.WithdrawalCompleted or models.WithdrawalRejected; rejection
	// refunds amount+fee verbatim. A request that is no longer pending
	// returns ErrConflict. The returned ledger entry records the refund,
	// or the audit-only completion entry.
	DecideWithdrawal(ctx context.Context, withdrawalId, decision, adminComment string) (*models.WithdrawalRequest, *models.LedgerTransaction, error)
	// ExpireWithdrawal cancels a pending request past its deadline,
	// refunding amount+fee. The returned ledger entry records the refund.
	ExpireWithdrawal(ctx context.Context, withdrawalId string) (*models.WithdrawalRequest, *models.LedgerTransaction, error)
	SelectExpiredWithdrawals(ctx context.Context, now time.Time, fallbackWindow time.Duration, limit int) ([]models.WithdrawalRequest, error)

	CreateDeposit(ctx context.Context, userId, walletAddress, network string, amount decimal.Decimal, expiresAt time.Time) (*models.DepositRequest, error)
	GetDeposit(ctx context.Context, depositId string) (*models.DepositRequest, error)
	// ConfirmDeposit credits the user and marks the request confirmed in one
	// database transaction, guarded on the pending status so a repeated
	// reconcile pass cannot double-credit. The returned ledger entry records
	// the credit.
	ConfirmDeposit(ctx context.Context, depositId, txHash string) (*models.DepositRequest, *models.LedgerTransaction, error)
	// ExpireDeposit cancels a pending request past its deadline. No refund:
	// no funds were held for a deposit.
	ExpireDeposit(ctx context.Context, depositId string) (*models.DepositRequest, error)
	// MarkDepositExpiredPaid moves a cancelled request whose payment arrived
	// late into the terminal expired_paid state. Never credits.
	MarkDepositExpiredPaid(ctx context.Context, depositId, txHash string) (*models.DepositRequest, error)
	SelectPendingDeposits(ctx context.Context, now time.Time, limit int) ([]models.DepositRequest, error)
	SelectExpiredDeposits(ctx context.Context, now time.Time, fallbackWindow time.Duration, limit int) ([]models.DepositRequest, error)
	// SelectCancelledDeposits returns cancelled requests created at or after
	// since, in rotating order so a large backlog cannot starve any single
	// record out of the late-payment scan.
	SelectCancelledDeposits(ctx context.Context, since time.Time, limit int) ([]models.DepositRequest, error)
}

// ChainScanner looks up inbound transfers on the external blockchain ledger.
// A transport or upstream failure is reported as ErrExternalUnavailable;
// callers treat it as "no match found yet", not as a hard failure.
type ChainScanner interface {
	FindMatchingTransfer(ctx context.Context, walletAddress string, expectedAmount decimal.Decimal, minTimestamp time.Time) (*models.TransferMatch, error)
}

// Notifier delivers user-visible notifications and inbox messages.
// Fire-and-forget: implementations log failures and never propagate them into
// the calling state transition.
type Notifier interface {
	Notify(ctx context.Context, userId, kind, title, message string)
	SendInboxMessage(ctx context.Context, fromUser, toUser, subject, body string)
}

// AuditMirror posts money movements to an external ledger for reconciliation.
// Best-effort: failures are logged and swallowed.
type AuditMirror interface {
	RecordMovement(ctx context.Context, tx *models.LedgerTransaction)
}
