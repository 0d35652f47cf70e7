// Package mirror posts platform money movements to a Formance Stack ledger
// for out-of-band reconciliation. The sqlite ledger stays authoritative; the
// mirror is best-effort and never blocks a state transition.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// usdtPrecision is the decimal precision of the platform asset in UMN
// notation (USDT/6).
const usdtPrecision = 6

const numscriptMovement = `vars {
  asset $asset
  number $amount
  account $account
  string $tx_type
  string $reference
  string $description
}

send [$asset $amount] (
  source = @platform:treasury allowing unbounded overdraft
  destination = @users:$account
)

set_tx_meta("tx_type", $tx_type)
set_tx_meta("reference", $reference)
set_tx_meta("description", $description)
`

const numscriptMovementOut = `vars {
  asset $asset
  number $amount
  account $account
  string $tx_type
  string $reference
  string $description
}

send [$asset $amount] (
  source = @users:$account allowing unbounded overdraft
  destination = @platform:treasury
)

set_tx_meta("tx_type", $tx_type)
set_tx_meta("reference", $reference)
set_tx_meta("description", $description)
`

// Service mirrors ledger transactions to a Formance ledger, one Formance
// transaction per sqlite ledger row, referenced by the row id so retries are
// idempotent.
type Service struct {
	client *v3.Formance
	ledger string
}

var _ store.AuditMirror = (*Service)(nil)

func NewService(ctx context.Context, cfg models.MirrorConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("mirror config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "escrow-audit"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Audit mirror initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "escrow-engine",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// movementFor picks the Numscript template and posted amount for one ledger
// row. Credits flow treasury -> user, debits flow user -> treasury.
// Audit-only rows (balance unchanged) post their absolute amount as an
// outbound movement so completed withdrawals show up on the mirror too.
func movementFor(tx *models.LedgerTransaction) (string, decimal.Decimal) {
	delta := tx.BalanceAfter.Sub(tx.BalanceBefore)
	switch {
	case delta.Sign() > 0:
		return numscriptMovement, delta
	case delta.Sign() < 0:
		return numscriptMovementOut, delta.Neg()
	default:
		return numscriptMovementOut, tx.Amount.Abs()
	}
}

// RecordMovement posts one ledger row to Formance, referenced by the row id
// so a retried posting lands on the duplicate-reference conflict instead of
// a second movement. Failures are logged and swallowed.
func (s *Service) RecordMovement(ctx context.Context, tx *models.LedgerTransaction) {
	script, amount := movementFor(tx)
	if amount.Sign() == 0 {
		return
	}

	smallAmt := amount.Shift(usdtPrecision).BigInt().String()

	postTx := shared.V2PostTransaction{
		Reference: v3.Pointer(tx.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars: map[string]string{
				"asset":       fmt.Sprintf("USDT/%d", usdtPrecision),
				"amount":      smallAmt,
				"account":     tx.AccountId,
				"tx_type":     tx.Type,
				"reference":   tx.Reference,
				"description": tx.Description,
			},
		},
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return
		}
		zap.L().Warn("Failed to mirror ledger transaction",
			zap.String("tx_id", tx.Id),
			zap.String("tx_type", tx.Type),
			zap.Error(err))
		return
	}

	zap.L().Debug("Ledger transaction mirrored",
		zap.String("tx_id", tx.Id),
		zap.String("tx_type", tx.Type),
		zap.String("amount", amount.String()))
}

// isConflictError checks whether a Formance SDK error is a CONFLICT
// (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// Noop is the mirror used when no Formance stack is configured.
type Noop struct{}

var _ store.AuditMirror = Noop{}

func (Noop) RecordMovement(context.Context, *models.LedgerTransaction) {}
