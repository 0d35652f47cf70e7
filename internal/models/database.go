package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deal status values. A deal is terminal at DealCompleted or DealCancelled.
const (
	DealOpen             = "open"
	DealAccepted         = "accepted"
	DealPaymentPending   = "payment_pending"
	DealPaymentConfirmed = "payment_confirmed"
	DealSellerConfirmed  = "seller_confirmed"
	DealCompleted        = "completed"
	DealCancelled        = "cancelled"
	DealDisputed         = "disputed"
)

// Deal flow variants. FlowSellerFinal completes the deal when the seller
// confirms delivery; FlowBuyerFinal additionally waits for the buyer's receipt
// confirmation before the payout.
const (
	FlowSellerFinal = "seller_final"
	FlowBuyerFinal  = "buyer_final"
)

// Deposit request status values.
const (
	DepositPending     = "pending"
	DepositConfirmed   = "confirmed"
	DepositCancelled   = "cancelled"
	DepositExpiredPaid = "expired_paid"
)

// Withdrawal request status values.
const (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
	WithdrawalCancelled = "cancelled"
)

// Ledger transaction types.
const (
	TxDealPayout         = "deal_payout"
	TxDepositCredit      = "deposit_credit"
	TxWithdrawalHold     = "withdrawal_hold"
	TxWithdrawalRefund   = "withdrawal_refund"
	TxWithdrawalComplete = "withdrawal_complete"
)

// Account represents a user account with its ledger balance (hot data).
type Account struct {
	Id                    string          `db:"id"`
	Name                  string          `db:"name"`
	Email                 string          `db:"email"`
	Balance               decimal.Decimal `db:"balance"`
	WithdrawalBlocked     bool            `db:"withdrawal_blocked"`
	WithdrawalBlockReason string          `db:"withdrawal_block_reason"`
	IsAdmin               bool            `db:"is_admin"`
	Version               int64           `db:"version"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// LedgerTransaction represents immutable balance history (cold data).
// BalanceBefore equals BalanceAfter for audit-only entries that record an
// event without moving funds.
type LedgerTransaction struct {
	Id            string          `db:"id"`
	AccountId     string          `db:"account_id"`
	Type          string          `db:"type"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	Reference     string          `db:"reference"`
	Description   string          `db:"description"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Deal represents one escrow deal between a seller and a buyer.
// BuyerId is empty until the deal is accepted. Price is immutable after
// creation; the payout to the seller happens exactly once, on the single
// transition into DealCompleted.
type Deal struct {
	Id            string          `db:"id"`
	SellerId      string          `db:"seller_id"`
	BuyerId       string          `db:"buyer_id"`
	Title         string          `db:"title"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	Status        string          `db:"status"`
	Flow          string          `db:"flow"`
	DisputeReason string          `db:"dispute_reason"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CompletedAt   time.Time       `db:"completed_at"`
}

// Terminal reports whether no further transitions are allowed.
func (d *Deal) Terminal() bool {
	return d.Status == DealCompleted || d.Status == DealCancelled
}

// Party reports whether userId is the seller or the recorded buyer.
func (d *Deal) Party(userId string) bool {
	return userId == d.SellerId || (d.BuyerId != "" && userId == d.BuyerId)
}

// DealMessage is one entry in a deal's append-only message thread.
// UserId is empty for system messages, which record every state transition so
// the thread doubles as an audit log.
type DealMessage struct {
	Id        string    `db:"id"`
	DealId    string    `db:"deal_id"`
	UserId    string    `db:"user_id"`
	Message   string    `db:"message"`
	IsSystem  bool      `db:"is_system"`
	CreatedAt time.Time `db:"created_at"`
}

// DepositRequest represents a pending crypto top-up awaiting on-chain
// confirmation. The balance is credited exactly once, on pending -> confirmed.
// A request expired before being matched moves to cancelled; a match found
// after that moves it to expired_paid, which never credits.
type DepositRequest struct {
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	WalletAddress string          `db:"wallet_address"`
	Network       string          `db:"network"`
	Amount        decimal.Decimal `db:"amount"`
	Status        string          `db:"status"`
	TxHash        string          `db:"tx_hash"`
	CreatedAt     time.Time       `db:"created_at"`
	ExpiresAt     time.Time       `db:"expires_at"`
	ConfirmedAt   time.Time       `db:"confirmed_at"`
}

// WithdrawalRequest represents a USDT withdrawal. Amount is the net requested
// amount; Amount+Fee is debited at creation and that exact total is refunded
// on rejection or expiry. Completion moves no funds.
type WithdrawalRequest struct {
	Id           string          `db:"id"`
	UserId       string          `db:"user_id"`
	Amount       decimal.Decimal `db:"amount"`
	Fee          decimal.Decimal `db:"fee"`
	UsdtWallet   string          `db:"usdt_wallet"`
	Status       string          `db:"status"`
	AdminComment string          `db:"admin_comment"`
	CreatedAt    time.Time       `db:"created_at"`
	ExpiresAt    time.Time       `db:"expires_at"`
	CompletedAt  time.Time       `db:"completed_at"`
}

// Notification is a user-visible event record.
type Notification struct {
	Id        string    `db:"id"`
	UserId    string    `db:"user_id"`
	Type      string    `db:"type"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

// InboxMessage is a direct message in the platform inbox.
type InboxMessage struct {
	Id        string    `db:"id"`
	FromUser  string    `db:"from_user"`
	ToUser    string    `db:"to_user"`
	Subject   string    `db:"subject"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}
