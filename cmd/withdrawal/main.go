package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/config"
	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: withdrawal --action <action> [flags]

Actions:
  request  --user --amount --wallet
  decide   --user --id --decision completed|rejected [--comment]
  show     --id`)
	os.Exit(2)
}

func main() {
	action := flag.String("action", "", "Withdrawal action to perform")
	user := flag.String("user", "", "Acting user id")
	id := flag.String("id", "", "Withdrawal request id")
	amountFlag := flag.String("amount", "", "Amount to withdraw in USDT")
	wallet := flag.String("wallet", "", "Destination USDT wallet address")
	decision := flag.String("decision", "", "Admin decision: completed or rejected")
	comment := flag.String("comment", "", "Admin comment")
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

	services, err := common.InitializeCoreServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := run(ctx, services, *action, *user, *id, *amountFlag, *wallet, *decision, *comment); err != nil {
		zap.L().Fatal("Withdrawal action failed",
			zap.String("action", *action),
			zap.Error(err))
	}
}

func run(ctx context.Context, services *common.Services, action, user, id, amountFlag, wallet, decision, comment string) error {
	switch action {
	case "request":
		if user == "" || amountFlag == "" || wallet == "" {
			return fmt.Errorf("request requires --user, --amount and --wallet")
		}
		amount, err := decimal.NewFromString(amountFlag)
		if err != nil {
			return fmt.Errorf("invalid amount format: %w", err)
		}
		request, err := services.Withdrawals.Create(ctx, user, amount, wallet)
		if err != nil {
			return err
		}
		printWithdrawal(request)
		return nil

	case "decide":
		if user == "" || id == "" || decision == "" {
			return fmt.Errorf("decide requires --user, --id and --decision")
		}
		request, err := services.Withdrawals.AdminDecide(ctx, user, id, decision, comment)
		if err != nil {
			return err
		}
		printWithdrawal(request)
		return nil

	case "show":
		if id == "" {
			return fmt.Errorf("show requires --id")
		}
		request, err := services.DbService.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		printWithdrawal(request)
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func printWithdrawal(request *models.WithdrawalRequest) {
	fmt.Printf("Withdrawal %s\n", request.Id)
	fmt.Printf("  User:    %s\n", request.UserId)
	fmt.Printf("  Status:  %s\n", request.Status)
	fmt.Printf("  Amount:  %s USDT\n", request.Amount.String())
	fmt.Printf("  Fee:     %s USDT\n", request.Fee.String())
	fmt.Printf("  Wallet:  %s\n", request.UsdtWallet)
	fmt.Printf("  Expires: %s\n", request.ExpiresAt.Format("2006-01-02 15:04:05"))
	if request.AdminComment != "" {
		fmt.Printf("  Comment: %s\n", request.AdminComment)
	}
}
