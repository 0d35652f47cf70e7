package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"escrow-engine-go/internal/chain"
	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/deal"
	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/mirror"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/notify"
	"escrow-engine-go/internal/store"
	"escrow-engine-go/internal/withdrawal"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export or the
	// container environment, so a missing .env file is fine.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

// Services bundles the wired platform components shared by the command-line
// tools.
type Services struct {
	DbService   *database.Service
	Notifier    store.Notifier
	Mirror      store.AuditMirror
	Scanner     store.ChainScanner
	Deals       *deal.Engine
	Withdrawals *withdrawal.Engine
	Deposits    *deposit.Engine
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the full platform: database, notifier, optional
// audit mirror, Prime chain scanner, and the three engines.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	services, err := InitializeCoreServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	wallets, err := LoadWalletCatalog(cfg.Sweep.WalletsFile)
	if err != nil {
		services.Close()
		return nil, err
	}

	scanner, err := initializeScanner(cfg, wallets)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Scanner = scanner
	services.Deposits = deposit.NewEngine(services.DbService, scanner, services.Notifier,
		services.Mirror, wallets, cfg.Policy.PendingTTL, cfg.Chain.Lookback)
	return services, nil
}

// InitializeCoreServices wires everything that does not need the Prime API:
// database, notifier, audit mirror, and the deal and withdrawal engines.
// Scanner and Deposits remain nil.
func InitializeCoreServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.NewService(dbService, cfg.Telegram)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	auditMirror, err := initializeMirror(ctx, cfg.Mirror)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	withdrawals, err := withdrawal.NewEngine(dbService, notifier, auditMirror, cfg.Policy)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService:   dbService,
		Notifier:    notifier,
		Mirror:      auditMirror,
		Deals:       deal.NewEngine(dbService, notifier, auditMirror),
		Withdrawals: withdrawals,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like querying balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func initializeMirror(ctx context.Context, cfg models.MirrorConfig) (store.AuditMirror, error) {
	if cfg.StackURL == "" {
		zap.L().Info("Audit mirror disabled")
		return mirror.Noop{}, nil
	}
	return mirror.NewService(ctx, cfg)
}

func initializeScanner(cfg *models.Config, wallets []models.ReceivingWallet) (store.ChainScanner, error) {
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, err
	}
	if cfg.Chain.PortfolioId == "" {
		return nil, fmt.Errorf("missing required PRIME_PORTFOLIO_ID")
	}

	tolerance, err := decimal.NewFromString(cfg.Policy.AmountTolerance)
	if err != nil {
		return nil, fmt.Errorf("invalid amount tolerance %q: %w", cfg.Policy.AmountTolerance, err)
	}

	return chain.NewScanner(creds, cfg.Chain.PortfolioId, wallets, tolerance)
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
