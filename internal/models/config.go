package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Policy   PolicyConfig
	Sweep    SweepConfig
	Chain    ChainConfig
	Mirror   MirrorConfig
	Telegram TelegramConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	SeedDemoUsers   bool
}

// PolicyConfig holds the money-movement rules: withdrawal minimum and fee,
// how long pending deposit/withdrawal requests stay open, and the absolute
// amount tolerance when matching on-chain transfers.
type PolicyConfig struct {
	WithdrawalFee   string
	MinWithdrawal   string
	PendingTTL      time.Duration
	AmountTolerance string
	FallbackWindow  time.Duration
}

// SweepConfig holds expiry-sweep and reconciliation settings.
type SweepConfig struct {
	CronSpec    string
	BatchSize   int
	MetricsAddr string
	WalletsFile string
}

// ChainConfig holds the external blockchain lookup settings.
type ChainConfig struct {
	PortfolioId string
	Lookback    time.Duration
}

// MirrorConfig holds the Formance audit-mirror settings. Mirroring is
// disabled when StackURL is empty.
type MirrorConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// TelegramConfig holds Telegram notification delivery settings. Delivery is
// disabled when BotToken is empty.
type TelegramConfig struct {
	BotToken string
	ChatFile string
	Timeout  time.Duration
}
