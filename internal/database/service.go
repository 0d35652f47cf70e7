package database

import (
	"context"
	"database/sql"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: *Service must satisfy the store contracts.
var (
	_ store.Deals = (*Service)(nil)
	_ store.Funds = (*Service)(nil)
)

// Service is the SQLite-backed durable store shared by all engines.
type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(cfg.SeedDemoUsers); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(seedDemoUsers bool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL DEFAULT '0',
		withdrawal_blocked BOOLEAN NOT NULL DEFAULT 0,
		withdrawal_block_reason TEXT NOT NULL DEFAULT '',
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_transactions(reference);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL REFERENCES accounts(id),
		buyer_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price TEXT NOT NULL,
		status TEXT NOT NULL,
		flow TEXT NOT NULL,
		dispute_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deals_seller ON deals(seller_id);
	CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);

	CREATE TABLE IF NOT EXISTS deal_messages (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL REFERENCES deals(id),
		user_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		is_system BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deal_messages_deal ON deal_messages(deal_id, created_at);

	CREATE TABLE IF NOT EXISTS deposit_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES accounts(id),
		wallet_address TEXT NOT NULL,
		network TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP,
		confirmed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposit_requests(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_user ON deposit_requests(user_id);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		usdt_wallet TEXT NOT NULL,
		status TEXT NOT NULL,
		admin_comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawal_requests(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawal_requests(user_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

	CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_to_user ON inbox_messages(to_user, created_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Insert demo accounts for local testing if configured to do so
	if seedDemoUsers {
		accounts := []struct {
			id      string
			name    string
			email   string
			isAdmin bool
		}{
			{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com", false},
			{uuid.New().String(), "Bob Smith", "bob.smith@example.com", false},
			{uuid.New().String(), "Carol Williams", "carol.williams@example.com", true},
		}

		for _, account := range accounts {
			_, err := s.db.Exec(queryInsertAccount, account.id, account.name, account.email, account.isAdmin)
			if err != nil {
				zap.L().Error("Failed to insert demo account", zap.String("name", account.name), zap.Error(err))
			} else {
				zap.L().Info("Demo account created", zap.String("id", account.id), zap.String("name", account.name))
			}
		}
	}

	return nil
}
