package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/config"
	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: deposit --action <action> [flags]

Actions:
  submit     --user --amount --network
  show       --id
  reconcile`)
	os.Exit(2)
}

func main() {
	action := flag.String("action", "", "Deposit action to perform")
	user := flag.String("user", "", "Acting user id")
	id := flag.String("id", "", "Deposit request id")
	amountFlag := flag.String("amount", "", "Expected deposit amount in USDT")
	network := flag.String("network", "", "Deposit network, e.g. TRC20 or ERC20")
	flag.Parse()

	if *action == "" {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := run(ctx, services, cfg, *action, *user, *id, *amountFlag, *network); err != nil {
		zap.L().Fatal("Deposit action failed",
			zap.String("action", *action),
			zap.Error(err))
	}
}

func run(ctx context.Context, services *common.Services, cfg *models.Config, action, user, id, amountFlag, network string) error {
	switch action {
	case "submit":
		if user == "" || amountFlag == "" || network == "" {
			return fmt.Errorf("submit requires --user, --amount and --network")
		}
		amount, err := decimal.NewFromString(amountFlag)
		if err != nil {
			return fmt.Errorf("invalid amount format: %w", err)
		}
		deposit, err := services.Deposits.Submit(ctx, user, amount, network)
		if err != nil {
			return err
		}
		printDeposit(deposit)
		return nil

	case "show":
		if id == "" {
			return fmt.Errorf("show requires --id")
		}
		deposit, err := services.DbService.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		printDeposit(deposit)
		return nil

	case "reconcile":
		result := services.Deposits.Reconcile(ctx, time.Now().UTC(), cfg.Sweep.BatchSize)
		fmt.Printf("Reconcile pass: checked=%d confirmed=%d late_paid=%d failed=%d\n",
			result.Checked, result.Confirmed, result.LatePaid, result.Failed)
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func printDeposit(deposit *models.DepositRequest) {
	fmt.Printf("Deposit %s\n", deposit.Id)
	fmt.Printf("  User:    %s\n", deposit.UserId)
	fmt.Printf("  Status:  %s\n", deposit.Status)
	fmt.Printf("  Amount:  %s USDT\n", deposit.Amount.String())
	fmt.Printf("  Network: %s\n", deposit.Network)
	fmt.Printf("  Wallet:  %s\n", deposit.WalletAddress)
	fmt.Printf("  Expires: %s\n", deposit.ExpiresAt.Format("2006-01-02 15:04:05"))
	if deposit.TxHash != "" {
		fmt.Printf("  Tx hash: %s\n", deposit.TxHash)
	}
}
