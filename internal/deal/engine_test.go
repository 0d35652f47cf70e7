package deal

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

type stubNotifier struct {
	notified []string
}

func (n *stubNotifier) Notify(_ context.Context, userId, _, _, _ string) {
	n.notified = append(n.notified, userId)
}

func (n *stubNotifier) SendInboxMessage(context.Context, string, string, string, string) {}

type stubMirror struct {
	movements []models.LedgerTransaction
}

func (m *stubMirror) RecordMovement(_ context.Context, tx *models.LedgerTransaction) {
	m.movements = append(m.movements, *tx)
}

func setupTestEngine(t *testing.T) (*Engine, *database.Service, *stubMirror, func()) {
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

	for _, id := range []string{"seller", "buyer"} {
		if _, err := dbService.CreateAccount(ctx, id, "Test "+id, id+"@example.com", false); err != nil {
			t.Fatalf("Failed to create account %s: %v", id, err)
		}
	}

	mirror := &stubMirror{}
	engine := NewEngine(dbService, &stubNotifier{}, mirror)

	return engine, dbService, mirror, func() { dbService.Close() }
}

func TestCreate_Validation(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	price := decimal.RequireFromString("100")

	cases := []struct {
		name   string
		seller string
		title  string
		desc   string
		price  decimal.Decimal
		flow   string
	}{
		{"missing title", "seller", "", "desc", price, ""},
		{"missing description", "seller", "title", "", price, ""},
		{"zero price", "seller", "title", "desc", decimal.Zero, ""},
		{"negative price", "seller", "title", "desc", decimal.RequireFromString("-1"), ""},
		{"unknown flow", "seller", "title", "desc", price, "both_confirm"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Create(ctx, tc.seller, tc.title, tc.desc, tc.price, tc.flow)
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreate_DefaultsToBuyerFinalFlow(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	deal, err := engine.Create(context.Background(), "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if deal.Flow != models.FlowBuyerFinal {
		t.Errorf("Expected default flow %s, got %s", models.FlowBuyerFinal, deal.Flow)
	}
	if deal.Status != models.DealOpen {
		t.Errorf("Expected status %s, got %s", models.DealOpen, deal.Status)
	}
}

func TestAccept_SellerCannotBuyOwnDeal(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = engine.Accept(ctx, deal.Id, "seller")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestSellerFinalFlow_CompletesOnDeliveryConfirmation(t *testing.T) {
	engine, dbService, mirror, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), models.FlowSellerFinal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := engine.StartPayment(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("StartPayment failed: %v", err)
	}
	if _, err := engine.ConfirmBuyerPayment(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("ConfirmBuyerPayment failed: %v", err)
	}

	completed, err := engine.ConfirmSellerDelivery(ctx, deal.Id, "seller")
	if err != nil {
		t.Fatalf("ConfirmSellerDelivery failed: %v", err)
	}
	if completed.Status != models.DealCompleted {
		t.Errorf("Expected status %s, got %s", models.DealCompleted, completed.Status)
	}

	balance, err := dbService.GetBalance(ctx, "seller")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("300")) {
		t.Errorf("Expected seller balance 300, got %s", balance.String())
	}

	if len(mirror.movements) != 1 || mirror.movements[0].Type != models.TxDealPayout {
		t.Fatalf("Expected one mirrored payout movement, got %+v", mirror.movements)
	}
	payout := mirror.movements[0]
	if payout.Id == "" {
		t.Error("Expected mirrored payout to carry the persisted ledger id")
	}
	if !payout.BalanceAfter.Sub(payout.BalanceBefore).Equal(decimal.RequireFromString("300")) {
		t.Errorf("Expected mirrored payout to credit 300, got %s -> %s",
			payout.BalanceBefore.String(), payout.BalanceAfter.String())
	}
}

func TestBuyerFinalFlow_WaitsForReceipt(t *testing.T) {
	engine, dbService, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), models.FlowBuyerFinal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := engine.ConfirmBuyerPayment(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("ConfirmBuyerPayment failed: %v", err)
	}

	waiting, err := engine.ConfirmSellerDelivery(ctx, deal.Id, "seller")
	if err != nil {
		t.Fatalf("ConfirmSellerDelivery failed: %v", err)
	}
	if waiting.Status != models.DealSellerConfirmed {
		t.Errorf("Expected status %s, got %s", models.DealSellerConfirmed, waiting.Status)
	}

	// No payout before the buyer confirms receipt.
	balance, err := dbService.GetBalance(ctx, "seller")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("Expected no payout yet, seller balance is %s", balance.String())
	}

	completed, err := engine.ConfirmReceipt(ctx, deal.Id, "buyer")
	if err != nil {
		t.Fatalf("ConfirmReceipt failed: %v", err)
	}
	if completed.Status != models.DealCompleted {
		t.Errorf("Expected status %s, got %s", models.DealCompleted, completed.Status)
	}

	balance, err = dbService.GetBalance(ctx, "seller")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("300")) {
		t.Errorf("Expected seller balance 300, got %s", balance.String())
	}
}

func TestConfirmSellerDelivery_AccessAndOrdering(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	// Buyer cannot confirm delivery.
	_, err = engine.ConfirmSellerDelivery(ctx, deal.Id, "buyer")
	if !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("Expected ErrAccessDenied, got %v", err)
	}

	// Seller cannot confirm delivery before the payment is confirmed.
	_, err = engine.ConfirmSellerDelivery(ctx, deal.Id, "seller")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestConfirmReceipt_OnlyInBuyerFinalFlow(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), models.FlowSellerFinal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	_, err = engine.ConfirmReceipt(ctx, deal.Id, "buyer")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestCancel_BlockedAfterCompletion(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), models.FlowSellerFinal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := engine.ConfirmBuyerPayment(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("ConfirmBuyerPayment failed: %v", err)
	}
	if _, err := engine.ConfirmSellerDelivery(ctx, deal.Id, "seller"); err != nil {
		t.Fatalf("ConfirmSellerDelivery failed: %v", err)
	}

	_, err = engine.Cancel(ctx, deal.Id, "buyer")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict cancelling a completed deal, got %v", err)
	}
}

func TestCancel_StopsLateSettlement(t *testing.T) {
	engine, dbService, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), models.FlowBuyerFinal)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if _, err := engine.ConfirmBuyerPayment(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("ConfirmBuyerPayment failed: %v", err)
	}
	if _, err := engine.ConfirmSellerDelivery(ctx, deal.Id, "seller"); err != nil {
		t.Fatalf("ConfirmSellerDelivery failed: %v", err)
	}
	if _, err := engine.Cancel(ctx, deal.Id, "seller"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Receipt confirmation after cancellation cannot settle.
	_, err = engine.ConfirmReceipt(ctx, deal.Id, "buyer")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	balance, err := dbService.GetBalance(ctx, "seller")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("Expected no payout on a cancelled deal, seller balance is %s", balance.String())
	}
}

func TestOpenDispute(t *testing.T) {
	engine, _, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Accept(ctx, deal.Id, "buyer"); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	_, err = engine.OpenDispute(ctx, deal.Id, "buyer", "")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty reason, got %v", err)
	}

	disputed, err := engine.OpenDispute(ctx, deal.Id, "buyer", "seller unresponsive")
	if err != nil {
		t.Fatalf("OpenDispute failed: %v", err)
	}
	if disputed.Status != models.DealDisputed {
		t.Errorf("Expected status %s, got %s", models.DealDisputed, disputed.Status)
	}
	if disputed.DisputeReason != "seller unresponsive" {
		t.Errorf("Expected dispute reason stored, got %q", disputed.DisputeReason)
	}

	// A disputed deal can still be cancelled.
	cancelled, err := engine.Cancel(ctx, deal.Id, "seller")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.DealCancelled {
		t.Errorf("Expected status %s, got %s", models.DealCancelled, cancelled.Status)
	}
}

func TestSendMessage_PartiesOnly(t *testing.T) {
	engine, dbService, _, cleanup := setupTestEngine(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := dbService.CreateAccount(ctx, "stranger", "Some Stranger", "stranger@example.com", false); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	deal, err := engine.Create(ctx, "seller", "Laptop", "Used laptop",
		decimal.RequireFromString("300"), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = engine.SendMessage(ctx, deal.Id, "stranger", "is this available?")
	if !errors.Is(err, store.ErrAccessDenied) {
		t.Fatalf("Expected ErrAccessDenied, got %v", err)
	}

	if _, err := engine.SendMessage(ctx, deal.Id, "seller", "still for sale"); err != nil {
		t.Fatalf("SendMessage by seller failed: %v", err)
	}
}
