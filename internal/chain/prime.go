// Package chain looks up inbound USDT transfers on Coinbase Prime, which
// serves as the platform's view of the external blockchain ledger.
package chain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Scanner matches pending deposits against completed inbound transactions on
// the custody wallets. Amounts match within an absolute tolerance because
// senders round and some networks shave dust off the transfer.
type Scanner struct {
	transactionsSvc transactions.TransactionsService
	portfolioId     string
	tolerance       decimal.Decimal

	// custody wallet id per receiving address, from the wallets catalog
	walletIds map[string]string
}

var _ store.ChainScanner = (*Scanner)(nil)

func NewScanner(creds *credentials.Credentials, portfolioId string, wallets []models.ReceivingWallet, tolerance decimal.Decimal) (*Scanner, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	walletIds := make(map[string]string, len(wallets))
	for _, wallet := range wallets {
		walletIds[wallet.Address] = wallet.WalletId
	}

	return &Scanner{
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     portfolioId,
		tolerance:       tolerance,
		walletIds:       walletIds,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// FindMatchingTransfer returns the first completed deposit on the wallet since
// minTimestamp whose amount is within tolerance of expectedAmount, or nil when
// nothing matches yet. Transport and upstream failures come back as
// ErrExternalUnavailable so callers retry on the next pass.
func (s *Scanner) FindMatchingTransfer(ctx context.Context, walletAddress string, expectedAmount decimal.Decimal, minTimestamp time.Time) (*models.TransferMatch, error) {
	walletId, ok := s.walletIds[walletAddress]
	if !ok {
		return nil, fmt.Errorf("%w: no custody wallet for address %s", store.ErrValidation, walletAddress)
	}

	request := &transactions.ListWalletTransactionsRequest{
		PortfolioId: s.portfolioId,
		WalletId:    walletId,
		Start:       minTimestamp,
		Types:       []string{"DEPOSIT"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	}

	response, err := s.transactionsSvc.ListWalletTransactions(ctx, request)
	if err != nil {
		zap.L().Warn("Prime wallet transaction lookup failed",
			zap.String("wallet_id", walletId),
			zap.Error(err))
		return nil, fmt.Errorf("%w: list wallet transactions: %v", store.ErrExternalUnavailable, err)
	}

	for _, tx := range response.Transactions {
		if tx.Type != "DEPOSIT" || tx.Status != "TRANSACTION_DONE" {
			continue
		}
		if tx.Created.Before(minTimestamp) {
			continue
		}

		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			zap.L().Warn("Skipping Prime transaction with unparseable amount",
				zap.String("transaction_id", tx.Id),
				zap.String("amount", tx.Amount))
			continue
		}
		if amount.Sub(expectedAmount).Abs().GreaterThan(s.tolerance) {
			continue
		}

		match := &models.TransferMatch{
			TxHash:    tx.Id,
			Amount:    amount,
			Timestamp: tx.Created,
		}
		if len(tx.BlockchainIds) > 0 {
			match.TxHash = tx.BlockchainIds[0]
		}

		zap.L().Debug("Matched inbound transfer",
			zap.String("wallet_id", walletId),
			zap.String("tx_hash", match.TxHash),
			zap.String("amount", amount.String()))
		return match, nil
	}

	return nil, nil
}
