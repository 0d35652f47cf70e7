package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferMatch describes an inbound on-chain transfer that matched a pending
// deposit request.
type TransferMatch struct {
	TxHash    string
	Amount    decimal.Decimal
	Timestamp time.Time
}

// ReceivingWallet is one platform deposit wallet from the wallets catalog.
type ReceivingWallet struct {
	Network  string `yaml:"network"`
	Address  string `yaml:"address"`
	WalletId string `yaml:"wallet_id"`
}
