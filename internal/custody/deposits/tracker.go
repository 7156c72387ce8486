// Package deposits tracks inbound deposits awaiting chain confirmations.
package deposits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/metrics"
	"github.com/covault/covault/internal/custody/state"
	"github.com/covault/covault/pkg/errors"
)

// SplitTrigger is invoked when a confirmed deposit should be considered for
// fund distribution.
type SplitTrigger interface {
	Evaluate(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency string, trigger interfaces.TriggerEvent) ([]*interfaces.DistributionPlan, error)
}

// ConfirmationTracker drives deposits through pending and into one of the
// terminal states: confirmed, failed, or cancelled.
type ConfirmationTracker struct {
	repository       interfaces.CustodyRepository
	wallets          state.WalletReader
	splits           SplitTrigger
	locks            *locks.Manager
	publisher        interfaces.EventPublisher
	logger           *zap.Logger
	minConfirmations int
}

// NewConfirmationTracker creates a new deposit confirmation tracker.
func NewConfirmationTracker(
	repository interfaces.CustodyRepository,
	wallets state.WalletReader,
	splits SplitTrigger,
	lockManager *locks.Manager,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	minConfirmations int,
) *ConfirmationTracker {
	return &ConfirmationTracker{
		repository:       repository,
		wallets:          wallets,
		splits:           splits,
		locks:            lockManager,
		publisher:        publisher,
		logger:           logger,
		minConfirmations: minConfirmations,
	}
}

// RegisterDeposit records a claimed inbound deposit. A chain transaction hash
// can be claimed at most once per wallet.
func (t *ConfirmationTracker) RegisterDeposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency, sourceAddress, chainTxHash, memo string) (*interfaces.Deposit, error) {
	if chainTxHash == "" {
		return nil, errors.Validation("chain transaction hash is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.Validation("deposit amount must be positive")
	}

	wallet, err := t.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, errors.State("wallet %s is %s", walletID, wallet.Status)
	}

	existing, err := t.repository.GetDepositByChainTxHash(ctx, walletID, chainTxHash)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict("chain transaction %s already claimed for wallet %s", chainTxHash, walletID)
	}

	now := time.Now()
	deposit := &interfaces.Deposit{
		ID:            uuid.New(),
		WalletID:      walletID,
		Amount:        amount,
		Currency:      currency,
		SourceAddress: sourceAddress,
		ChainTxHash:   chainTxHash,
		Memo:          memo,
		Status:        interfaces.DepositStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The unique (wallet, hash) index backs up the pre-check against a
	// concurrent registration of the same hash.
	if err := t.repository.CreateDeposit(ctx, deposit); err != nil {
		return nil, err
	}

	t.logger.Info("deposit registered",
		zap.String("deposit_id", deposit.ID.String()),
		zap.String("wallet_id", walletID.String()),
		zap.String("chain_tx_hash", chainTxHash),
		zap.String("amount", amount.String()),
	)
	t.publish(ctx, "deposit.registered", deposit)

	return deposit, nil
}

// ConfirmDeposit finalizes a pending deposit once enough chain confirmations
// have accumulated, then hands the amount to the fund split engine.
func (t *ConfirmationTracker) ConfirmDeposit(ctx context.Context, depositID uuid.UUID, blockNumber int64, confirmations int, fee decimal.Decimal) (*interfaces.Deposit, error) {
	var deposit *interfaces.Deposit

	err := t.locks.WithLock(depositID, func() error {
		d, err := t.repository.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		switch d.Status {
		case interfaces.DepositStatusPending:
			// proceed
		case interfaces.DepositStatusConfirmed:
			return errors.Conflict("deposit %s is already confirmed", depositID)
		default:
			return errors.State("deposit %s is %s", depositID, d.Status)
		}
		if confirmations < t.minConfirmations {
			return errors.State("deposit %s has %d confirmations, %d required", depositID, confirmations, t.minConfirmations)
		}

		now := time.Now()
		d.Status = interfaces.DepositStatusConfirmed
		d.Confirmations = confirmations
		d.BlockNumber = blockNumber
		d.Fee = fee
		d.ConfirmedAt = &now
		d.UpdatedAt = now
		if err := t.repository.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositsConfirmedTotal.Inc()
	t.logger.Info("deposit confirmed",
		zap.String("deposit_id", depositID.String()),
		zap.Int("confirmations", deposit.Confirmations),
		zap.Int64("block_number", deposit.BlockNumber),
	)
	t.publish(ctx, "deposit.confirmed", deposit)

	// Distribution runs outside the deposit lock; the deposit itself is
	// already immutable at this point.
	if t.splits != nil {
		if _, err := t.splits.Evaluate(ctx, deposit.WalletID, deposit.Amount, deposit.Currency, interfaces.TriggerDeposit); err != nil {
			t.logger.Error("fund split evaluation failed for confirmed deposit",
				zap.String("deposit_id", depositID.String()),
				zap.Error(err),
			)
		}
	}

	return deposit, nil
}

// CancelDeposit cancels a deposit still awaiting confirmations.
func (t *ConfirmationTracker) CancelDeposit(ctx context.Context, depositID uuid.UUID) (*interfaces.Deposit, error) {
	return t.transition(ctx, depositID, "deposit.cancelled", func(d *interfaces.Deposit) error {
		switch d.Status {
		case interfaces.DepositStatusPending:
			d.Status = interfaces.DepositStatusCancelled
			return nil
		case interfaces.DepositStatusConfirmed:
			return errors.Conflict("deposit %s is already confirmed", depositID)
		default:
			return errors.State("deposit %s is %s", depositID, d.Status)
		}
	})
}

// FailDeposit marks a pending deposit failed with a reason.
func (t *ConfirmationTracker) FailDeposit(ctx context.Context, depositID uuid.UUID, reason string) (*interfaces.Deposit, error) {
	return t.transition(ctx, depositID, "deposit.failed", func(d *interfaces.Deposit) error {
		if d.Status != interfaces.DepositStatusPending {
			return errors.State("deposit %s is %s", depositID, d.Status)
		}
		d.Status = interfaces.DepositStatusFailed
		d.FailReason = reason
		return nil
	})
}

// RetryDeposit re-enters a failed deposit into pending.
func (t *ConfirmationTracker) RetryDeposit(ctx context.Context, depositID uuid.UUID) (*interfaces.Deposit, error) {
	return t.transition(ctx, depositID, "deposit.retried", func(d *interfaces.Deposit) error {
		if d.Status != interfaces.DepositStatusFailed {
			return errors.State("only failed deposits can be retried, deposit %s is %s", depositID, d.Status)
		}
		d.Status = interfaces.DepositStatusPending
		d.FailReason = ""
		return nil
	})
}

// GetDeposit returns a deposit by id.
func (t *ConfirmationTracker) GetDeposit(ctx context.Context, depositID uuid.UUID) (*interfaces.Deposit, error) {
	return t.repository.GetDeposit(ctx, depositID)
}

// ListWalletDeposits returns a wallet's deposits, newest first.
func (t *ConfirmationTracker) ListWalletDeposits(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Deposit, error) {
	return t.repository.ListWalletDeposits(ctx, walletID, limit, offset)
}

// ListPendingDeposits returns all pending deposits, for the confirmation
// poller.
func (t *ConfirmationTracker) ListPendingDeposits(ctx context.Context) ([]*interfaces.Deposit, error) {
	return t.repository.ListPendingDeposits(ctx)
}

func (t *ConfirmationTracker) transition(ctx context.Context, depositID uuid.UUID, eventType string, fn func(*interfaces.Deposit) error) (*interfaces.Deposit, error) {
	var deposit *interfaces.Deposit
	err := t.locks.WithLock(depositID, func() error {
		d, err := t.repository.GetDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now()
		if err := t.repository.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		deposit = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("deposit state changed",
		zap.String("deposit_id", depositID.String()),
		zap.String("status", string(deposit.Status)),
	)
	t.publish(ctx, eventType, deposit)
	return deposit, nil
}

func (t *ConfirmationTracker) publish(ctx context.Context, eventType string, d *interfaces.Deposit) {
	if t.publisher == nil {
		return
	}
	amount := d.Amount
	event := &interfaces.CustodyEvent{
		ID:       uuid.New(),
		Type:     eventType,
		WalletID: d.WalletID,
		EntityID: d.ID,
		Status:   string(d.Status),
		Amount:   &amount,
		Metadata: map[string]interface{}{
			"chain_tx_hash": d.ChainTxHash,
			"confirmations": d.Confirmations,
		},
		Timestamp: time.Now(),
	}
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish deposit event",
			zap.String("deposit_id", d.ID.String()),
			zap.Error(err),
		)
	}
}
