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
	fmt.Fprintln(os.Stderr, `Usage: deals --action <action> [flags]

Actions:
  create            --user --title --description --price [--flow seller_final|buyer_final]
  accept            --user --deal
  start-payment     --user --deal
  confirm-payment   --user --deal
  confirm-delivery  --user --deal
  confirm-receipt   --user --deal
  cancel            --user --deal
  dispute           --user --deal --reason
  message           --user --deal --text
  show              --deal
  messages          --deal`)
	os.Exit(2)
}

func main() {
	action := flag.String("action", "", "Deal action to perform")
	user := flag.String("user", "", "Acting user id")
	dealId := flag.String("deal", "", "Deal id")
	title := flag.String("title", "", "Deal title (create)")
	description := flag.String("description", "", "Deal description (create)")
	price := flag.String("price", "", "Deal price in USDT (create)")
	flow := flag.String("flow", "", "Deal flow: seller_final or buyer_final (create)")
	text := flag.String("text", "", "Message text (message)")
	reason := flag.String("reason", "", "Dispute reason (dispute)")
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

	if err := run(ctx, services, *action, *user, *dealId, *title, *description, *price, *flow, *text, *reason); err != nil {
		zap.L().Fatal("Deal action failed",
			zap.String("action", *action),
			zap.Error(err))
	}
}

func run(ctx context.Context, services *common.Services, action, user, dealId, title, description, price, flow, text, reason string) error {
	switch action {
	case "create":
		if user == "" || title == "" || price == "" {
			return fmt.Errorf("create requires --user, --title and --price")
		}
		amount, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("invalid price format: %w", err)
		}
		deal, err := services.Deals.Create(ctx, user, title, description, amount, flow)
		if err != nil {
			return err
		}
		printDeal(deal)
		return nil

	case "accept":
		return actOnDeal(services.Deals.Accept, ctx, dealId, user)
	case "start-payment":
		return actOnDeal(services.Deals.StartPayment, ctx, dealId, user)
	case "confirm-payment":
		return actOnDeal(services.Deals.ConfirmBuyerPayment, ctx, dealId, user)
	case "confirm-delivery":
		return actOnDeal(services.Deals.ConfirmSellerDelivery, ctx, dealId, user)
	case "confirm-receipt":
		return actOnDeal(services.Deals.ConfirmReceipt, ctx, dealId, user)
	case "cancel":
		return actOnDeal(services.Deals.Cancel, ctx, dealId, user)

	case "dispute":
		if user == "" || dealId == "" || reason == "" {
			return fmt.Errorf("dispute requires --user, --deal and --reason")
		}
		deal, err := services.Deals.OpenDispute(ctx, dealId, user, reason)
		if err != nil {
			return err
		}
		printDeal(deal)
		return nil

	case "message":
		if user == "" || dealId == "" || text == "" {
			return fmt.Errorf("message requires --user, --deal and --text")
		}
		msg, err := services.Deals.SendMessage(ctx, dealId, user, text)
		if err != nil {
			return err
		}
		fmt.Printf("Message %s sent\n", msg.Id)
		return nil

	case "show":
		if dealId == "" {
			return fmt.Errorf("show requires --deal")
		}
		deal, err := services.DbService.GetDeal(ctx, dealId)
		if err != nil {
			return err
		}
		printDeal(deal)
		return nil

	case "messages":
		if dealId == "" {
			return fmt.Errorf("messages requires --deal")
		}
		messages, err := services.Deals.Messages(ctx, dealId)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			author := msg.UserId
			if msg.IsSystem {
				author = "system"
			}
			fmt.Printf("[%s] %-36s %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), author, msg.Message)
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func actOnDeal(op func(context.Context, string, string) (*models.Deal, error), ctx context.Context, dealId, user string) error {
	if user == "" || dealId == "" {
		return fmt.Errorf("action requires --user and --deal")
	}
	deal, err := op(ctx, dealId, user)
	if err != nil {
		return err
	}
	printDeal(deal)
	return nil
}

func printDeal(deal *models.Deal) {
	fmt.Printf("Deal %s\n", deal.Id)
	fmt.Printf("  Title:  %s\n", deal.Title)
	fmt.Printf("  Status: %s\n", deal.Status)
	fmt.Printf("  Flow:   %s\n", deal.Flow)
	fmt.Printf("  Price:  %s USDT\n", deal.Price.String())
	fmt.Printf("  Seller: %s\n", deal.SellerId)
	if deal.BuyerId != "" {
		fmt.Printf("  Buyer:  %s\n", deal.BuyerId)
	}
	if deal.DisputeReason != "" {
		fmt.Printf("  Dispute: %s\n", deal.DisputeReason)
	}
}
