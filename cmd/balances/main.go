package main

import (
	"context"
	"flag"
	"fmt"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/config"

	"go.uber.org/zap"
)

func formatReference(reference string) string {
	if reference == "" {
		return "none"
	}
	if len(reference) > 8 {
		return reference[:8] + "..."
	}
	return reference
}

func main() {
	user := flag.String("user", "", "User id (required)")
	limit := flag.Int("limit", 20, "Number of ledger entries to show")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	if *user == "" {
		zap.L().Fatal("Missing required --user flag")
	}

	ctx := context.Background()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	account, err := dbService.GetAccount(ctx, *user)
	if err != nil {
		zap.L().Fatal("Failed to get account",
			zap.String("user_id", *user),
			zap.Error(err))
	}

	fmt.Printf("\n┌─ Account: %s (%s)\n", account.Name, account.Email)
	fmt.Printf("│  ID:      %s\n", account.Id)
	fmt.Printf("│  Balance: %s USDT (v%d)\n", account.Balance.String(), account.Version)
	if account.WithdrawalBlocked {
		fmt.Printf("│  Withdrawals blocked: %s\n", account.WithdrawalBlockReason)
	}
	fmt.Println("└" + "─────────────────────────────────────────────────────────────")

	history, err := dbService.GetTransactionHistory(ctx, *user, *limit, 0)
	if err != nil {
		zap.L().Fatal("Failed to get transaction history",
			zap.String("user_id", *user),
			zap.Error(err))
	}

	for _, tx := range history {
		fmt.Printf("  %s  %-20s %12s  %12s -> %-12s ref: %s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.Type,
			tx.Amount.String(),
			tx.BalanceBefore.String(),
			tx.BalanceAfter.String(),
			formatReference(tx.Reference))
	}
	if len(history) == 0 {
		fmt.Println("  (no ledger entries)")
	}
	fmt.Println()
}
