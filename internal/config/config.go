package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"escrow-engine-go/internal/models"
)

func Load() (*models.Config, error) {
	pendingTTL, err := getEnvDuration("PENDING_REQUEST_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	fallbackWindow, err := getEnvDuration("SWEEP_FALLBACK_WINDOW", time.Hour)
	if err != nil {
		return nil, err
	}

	chainLookback, err := getEnvDuration("CHAIN_LOOKBACK_WINDOW", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	telegramTimeout, err := getEnvDuration("TELEGRAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "escrow.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			SeedDemoUsers:   getEnvBool("SEED_DEMO_USERS", false),
		},
		Policy: models.PolicyConfig{
			WithdrawalFee:   getEnvString("WITHDRAWAL_FEE", "5"),
			MinWithdrawal:   getEnvString("MIN_WITHDRAWAL", "100"),
			PendingTTL:      pendingTTL,
			AmountTolerance: getEnvString("AMOUNT_TOLERANCE", "0.01"),
			FallbackWindow:  fallbackWindow,
		},
		Sweep: models.SweepConfig{
			CronSpec:    getEnvString("SWEEP_CRON_SPEC", "@every 2m"),
			BatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 100),
			MetricsAddr: getEnvString("SWEEP_METRICS_ADDR", ":9102"),
			WalletsFile: getEnvString("WALLETS_FILE", "wallets.yaml"),
		},
		Chain: models.ChainConfig{
			PortfolioId: getEnvString("PRIME_PORTFOLIO_ID", ""),
			Lookback:    chainLookback,
		},
		Mirror: models.MirrorConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "escrow-audit"),
		},
		Telegram: models.TelegramConfig{
			BotToken: getEnvString("TELEGRAM_BOT_TOKEN", ""),
			ChatFile: getEnvString("TELEGRAM_CHAT_FILE", ""),
			Timeout:  telegramTimeout,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
