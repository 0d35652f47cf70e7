package deposit

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
)

type fakeScanner struct {
	find func(walletAddress string, expectedAmount decimal.Decimal) (*models.TransferMatch, error)
}

func (s *fakeScanner) FindMatchingTransfer(_ context.Context, walletAddress string, expectedAmount decimal.Decimal, _ time.Time) (*models.TransferMatch, error) {
	if s.find == nil {
		return nil, nil
	}
	return s.find(walletAddress, expectedAmount)
}

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, string, string, string) {}

func (stubNotifier) SendInboxMessage(context.Context, string, string, string, string) {}

type stubMirror struct {
	movements []*models.LedgerTransaction
}

func (m *stubMirror) RecordMovement(_ context.Context, tx *models.LedgerTransaction) {
	m.movements = append(m.movements, tx)
}

var testWallets = []models.ReceivingWallet{
	{Network: "TRC20", Address: "TPlatformWalletTRC20", WalletId: "wallet-trc20"},
	{Network: "ERC20", Address: "0xPlatformWalletERC20", WalletId: "wallet-erc20"},
}

func setupTestEngine(t *testing.T, scanner store.ChainScanner) (*Engine, *database.Service, *stubMirror, func()) {
	t.Helper()

	ctx := context.Background()
	dbService, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create database service: %v", err)
	}
	if _, err := dbService.CreateAccount(ctx, "buyer", "Bill Buyer", "bill@example.com", false); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	mirror := &stubMirror{}
	engine := NewEngine(dbService, scanner, stubNotifier{}, mirror, testWallets, time.Hour, 6*time.Hour)
	return engine, dbService, mirror, func() { dbService.Close() }
}

func TestSubmit_UnsupportedNetwork(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t, &fakeScanner{})
	defer cleanup()

	_, err := engine.Submit(context.Background(), "buyer", decimal.RequireFromString("100"), "BEP20")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestSubmit_AssignsNetworkWallet(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t, &fakeScanner{})
	defer cleanup()

	deposit, err := engine.Submit(context.Background(), "buyer", decimal.RequireFromString("100"), "TRC20")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if deposit.WalletAddress != "TPlatformWalletTRC20" {
		t.Errorf("Expected TRC20 platform wallet, got %s", deposit.WalletAddress)
	}
	if deposit.Status != models.DepositPending {
		t.Errorf("Expected status %s, got %s", models.DepositPending, deposit.Status)
	}
}

func TestReconcile_ConfirmsMatchedDeposit(t *testing.T) {
	scanner := &fakeScanner{
		find: func(_ string, expectedAmount decimal.Decimal) (*models.TransferMatch, error) {
			// Amount off by less than the matching tolerance still counts.
			return &models.TransferMatch{
				TxHash:    "0xmatch",
				Amount:    expectedAmount.Sub(decimal.RequireFromString("0.01")),
				Timestamp: time.Now().UTC(),
			}, nil
		},
	}
	engine, dbService, mirror, cleanup := setupTestEngine(t, scanner)
	defer cleanup()

	ctx := context.Background()
	deposit, err := engine.Submit(ctx, "buyer", decimal.RequireFromString("100"), "TRC20")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result := engine.Reconcile(ctx, time.Now().UTC(), 10)
	if result.Confirmed != 1 || result.Failed != 0 {
		t.Fatalf("Expected 1 confirmation, got %+v", result)
	}

	// The mirrored entry is the stored ledger row, with its id and the real
	// balance movement.
	if len(mirror.movements) != 1 {
		t.Fatalf("Expected 1 mirrored movement, got %d", len(mirror.movements))
	}
	credit := mirror.movements[0]
	if credit.Id == "" {
		t.Error("Expected mirrored entry to carry the ledger row id")
	}
	if credit.Type != models.TxDepositCredit {
		t.Errorf("Expected mirrored type %s, got %s", models.TxDepositCredit, credit.Type)
	}
	if !credit.BalanceAfter.Sub(credit.BalanceBefore).Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected mirrored entry to move 100, got %s -> %s",
			credit.BalanceBefore.String(), credit.BalanceAfter.String())
	}

	confirmed, err := dbService.GetDeposit(ctx, deposit.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if confirmed.Status != models.DepositConfirmed {
		t.Errorf("Expected status %s, got %s", models.DepositConfirmed, confirmed.Status)
	}
	if confirmed.TxHash != "0xmatch" {
		t.Errorf("Expected tx hash 0xmatch, got %q", confirmed.TxHash)
	}

	// The requested amount is credited, not the slightly different on-chain
	// amount.
	balance, err := dbService.GetBalance(ctx, "buyer")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance 100, got %s", balance.String())
	}

	// A second pass finds nothing pending and must not credit again.
	result = engine.Reconcile(ctx, time.Now().UTC(), 10)
	if result.Confirmed != 0 {
		t.Fatalf("Expected no confirmations on second pass, got %+v", result)
	}
	balance, _ = dbService.GetBalance(ctx, "buyer")
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance to stay 100, got %s", balance.String())
	}
}

func TestReconcile_UnavailableChainKeepsDepositPending(t *testing.T) {
	scanner := &fakeScanner{
		find: func(string, decimal.Decimal) (*models.TransferMatch, error) {
			return nil, store.ErrExternalUnavailable
		},
	}
	engine, dbService, _, cleanup := setupTestEngine(t, scanner)
	defer cleanup()

	ctx := context.Background()
	deposit, err := engine.Submit(ctx, "buyer", decimal.RequireFromString("100"), "TRC20")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result := engine.Reconcile(ctx, time.Now().UTC(), 10)
	if result.Confirmed != 0 || result.Failed != 0 {
		t.Fatalf("Expected outage to be neither confirmation nor failure, got %+v", result)
	}

	current, err := dbService.GetDeposit(ctx, deposit.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if current.Status != models.DepositPending {
		t.Errorf("Expected deposit to stay pending, got %s", current.Status)
	}
}

func TestReconcile_PoisonRecordDoesNotBlockBatch(t *testing.T) {
	scanner := &fakeScanner{
		find: func(_ string, expectedAmount decimal.Decimal) (*models.TransferMatch, error) {
			if expectedAmount.Equal(decimal.RequireFromString("666")) {
				return nil, errors.New("malformed wallet history")
			}
			return &models.TransferMatch{
				TxHash:    "0xgood",
				Amount:    expectedAmount,
				Timestamp: time.Now().UTC(),
			}, nil
		},
	}
	engine, dbService, _, cleanup := setupTestEngine(t, scanner)
	defer cleanup()

	ctx := context.Background()
	if _, err := engine.Submit(ctx, "buyer", decimal.RequireFromString("666"), "TRC20"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	good, err := engine.Submit(ctx, "buyer", decimal.RequireFromString("50"), "TRC20")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result := engine.Reconcile(ctx, time.Now().UTC(), 10)
	if result.Confirmed != 1 {
		t.Errorf("Expected the healthy deposit confirmed, got %+v", result)
	}
	if result.Failed != 1 {
		t.Errorf("Expected the poison deposit counted as failed, got %+v", result)
	}

	confirmed, err := dbService.GetDeposit(ctx, good.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if confirmed.Status != models.DepositConfirmed {
		t.Errorf("Expected healthy deposit confirmed, got %s", confirmed.Status)
	}
}

func TestReconcile_LatePaymentFlaggedNotCredited(t *testing.T) {
	var matchNow bool
	scanner := &fakeScanner{
		find: func(_ string, expectedAmount decimal.Decimal) (*models.TransferMatch, error) {
			if !matchNow {
				return nil, nil
			}
			return &models.TransferMatch{
				TxHash:    "0xlate",
				Amount:    expectedAmount,
				Timestamp: time.Now().UTC(),
			}, nil
		},
	}
	engine, dbService, _, cleanup := setupTestEngine(t, scanner)
	defer cleanup()

	ctx := context.Background()
	deposit, err := engine.Submit(ctx, "buyer", decimal.RequireFromString("100"), "TRC20")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := dbService.ExpireDeposit(ctx, deposit.Id); err != nil {
		t.Fatalf("ExpireDeposit failed: %v", err)
	}

	// The payment shows up only after the request expired.
	matchNow = true
	result := engine.Reconcile(ctx, time.Now().UTC(), 10)
	if result.LatePaid != 1 {
		t.Fatalf("Expected 1 late-paid deposit, got %+v", result)
	}

	flagged, err := dbService.GetDeposit(ctx, deposit.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if flagged.Status != models.DepositExpiredPaid {
		t.Errorf("Expected status %s, got %s", models.DepositExpiredPaid, flagged.Status)
	}

	balance, err := dbService.GetBalance(ctx, "buyer")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected late payment never credited, balance is %s", balance.String())
	}
}

func TestReconcile_CancelledBacklogDoesNotStarveLatePayment(t *testing.T) {
	// Only the 500 USDT request ever gets paid; the rest stay unpaid forever.
	scanner := &fakeScanner{
		find: func(_ string, expectedAmount decimal.Decimal) (*models.TransferMatch, error) {
			if !expectedAmount.Equal(decimal.RequireFromString("500")) {
				return nil, nil
			}
			return &models.TransferMatch{
				TxHash:    "0xlate",
				Amount:    expectedAmount,
				Timestamp: time.Now().UTC(),
			}, nil
		},
	}
	engine, dbService, _, cleanup := setupTestEngine(t, scanner)
	defer cleanup()

	ctx := context.Background()
	amounts := []string{"10", "20", "30", "500"}
	var paid *models.DepositRequest
	for _, amount := range amounts {
		deposit, err := engine.Submit(ctx, "buyer", decimal.RequireFromString(amount), "TRC20")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, err := dbService.ExpireDeposit(ctx, deposit.Id); err != nil {
			t.Fatalf("ExpireDeposit failed: %v", err)
		}
		if amount == "500" {
			paid = deposit
		}
	}

	// The batch holds fewer records than there are cancelled requests. The
	// rotating selection must still reach the late-paid one within a few
	// passes instead of rescanning the same oldest records forever.
	flagged := false
	for pass := 0; pass < 50 && !flagged; pass++ {
		result := engine.Reconcile(ctx, time.Now().UTC(), 3)
		flagged = result.LatePaid > 0
	}
	if !flagged {
		t.Fatal("Late-paid deposit was never flagged")
	}

	current, err := dbService.GetDeposit(ctx, paid.Id)
	if err != nil {
		t.Fatalf("GetDeposit failed: %v", err)
	}
	if current.Status != models.DepositExpiredPaid {
		t.Errorf("Expected status %s, got %s", models.DepositExpiredPaid, current.Status)
	}
}
