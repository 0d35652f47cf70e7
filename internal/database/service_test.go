package database

import (
	"context"
	"database/sql"
	"testing"

	"escrow-engine-go/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupTestService(t *testing.T) (*Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps every statement on the same in-memory
	// database.
	db.SetMaxOpenConns(1)

	service := &Service{db: db}
	if err := service.initSchema(false); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	ctx := context.Background()
	accounts := []struct {
		id      string
		name    string
		email   string
		isAdmin bool
	}{
		{"seller", "Sally Seller", "sally@example.com", false},
		{"buyer", "Bill Buyer", "bill@example.com", false},
		{"admin", "Alice Admin", "alice@example.com", true},
	}
	for _, account := range accounts {
		if _, err := service.CreateAccount(ctx, account.id, account.name, account.email, account.isAdmin); err != nil {
			t.Fatalf("Failed to create test account %s: %v", account.id, err)
		}
	}

	cleanup := func() {
		db.Close()
	}

	return service, cleanup
}

// creditAccount funds a test account outside the normal deposit flow.
func creditAccount(t *testing.T, service *Service, userId string, amount decimal.Decimal) {
	t.Helper()

	ctx := context.Background()
	tx, err := service.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := service.applyBalanceChange(ctx, tx, userId, amount,
		models.TxDepositCredit, "test-credit-"+userId, "test credit"); err != nil {
		t.Fatalf("Failed to credit account %s: %v", userId, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit credit: %v", err)
	}
}

func mustBalance(t *testing.T, service *Service, userId string) decimal.Decimal {
	t.Helper()

	balance, err := service.GetBalance(context.Background(), userId)
	if err != nil {
		t.Fatalf("Failed to get balance for %s: %v", userId, err)
	}
	return balance
}

func TestIsAdmin(t *testing.T) {
	service, cleanup := setupTestService(t)
	defer cleanup()

	ctx := context.Background()

	isAdmin, err := service.IsAdmin(ctx, "admin")
	if err != nil {
		t.Fatalf("IsAdmin failed: %v", err)
	}
	if !isAdmin {
		t.Error("Expected admin account to be admin")
	}

	isAdmin, err = service.IsAdmin(ctx, "buyer")
	if err != nil {
		t.Fatalf("IsAdmin failed: %v", err)
	}
	if isAdmin {
		t.Error("Expected buyer account to not be admin")
	}
}

func TestGetBalance_NewAccountIsZero(t *testing.T) {
	service, cleanup := setupTestService(t)
	defer cleanup()

	balance := mustBalance(t, service, "seller")
	if !balance.Equal(decimal.Zero) {
		t.Errorf("Expected balance 0, got %s", balance.String())
	}
}
