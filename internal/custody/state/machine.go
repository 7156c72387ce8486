// Package state drives a proposal through the approval state machine:
// proposed, approved, executing, and the terminal states.
package state

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/metrics"
	"github.com/covault/covault/pkg/errors"
)

// WalletReader resolves wallet snapshots for threshold and participant reads.
type WalletReader interface {
	GetWallet(ctx context.Context, walletID uuid.UUID) (*interfaces.MultisigWallet, error)
}

// Config holds the state machine's tunable parameters.
type Config struct {
	ProposalTTL       time.Duration
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal
	MaxExecuteRetries int
	IdempotencyKeyTTL time.Duration
}

// TransactionStateMachine manages transaction state transitions.
type TransactionStateMachine struct {
	repository interfaces.CustodyRepository
	wallets    WalletReader
	gateway    interfaces.LedgerGateway
	cache      interfaces.CustodyCache
	locks      *locks.Manager
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
	config     Config
}

// NewTransactionStateMachine creates a new transaction state machine.
func NewTransactionStateMachine(
	repository interfaces.CustodyRepository,
	wallets WalletReader,
	gateway interfaces.LedgerGateway,
	cache interfaces.CustodyCache,
	lockManager *locks.Manager,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	config Config,
) *TransactionStateMachine {
	return &TransactionStateMachine{
		repository: repository,
		wallets:    wallets,
		gateway:    gateway,
		cache:      cache,
		locks:      lockManager,
		publisher:  publisher,
		logger:     logger,
		config:     config,
	}
}

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[interfaces.TxStatus][]interfaces.TxStatus{
	interfaces.TxStatusProposed: {
		interfaces.TxStatusApproved,
		interfaces.TxStatusRejected,
		interfaces.TxStatusExpired,
	},
	interfaces.TxStatusApproved: {
		interfaces.TxStatusExecuting,
		interfaces.TxStatusRejected,
		interfaces.TxStatusExpired,
	},
	interfaces.TxStatusExecuting: {
		interfaces.TxStatusExecuted,
		interfaces.TxStatusApproved, // transient gateway failure, retry remains possible
		interfaces.TxStatusFailed,
	},
	// Terminal states
	interfaces.TxStatusExecuted: {},
	interfaces.TxStatusRejected: {},
	interfaces.TxStatusExpired:  {},
	interfaces.TxStatusFailed:   {},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to interfaces.TxStatus) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Propose validates the payload and creates a new proposal.
func (sm *TransactionStateMachine) Propose(ctx context.Context, walletID uuid.UUID, proposedBy uuid.UUID, txType interfaces.TxType, recipient string, amount decimal.Decimal, currency, memo string) (*interfaces.Transaction, error) {
	wallet, err := sm.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, errors.State("wallet %s is %s", walletID, wallet.Status)
	}
	if wallet.ParticipantByUser(proposedBy) == nil {
		return nil, errors.Permission("proposer %s is not a wallet participant", proposedBy)
	}
	if err := sm.validatePayload(txType, recipient, amount, currency); err != nil {
		return nil, err
	}

	now := time.Now()
	tx := &interfaces.Transaction{
		ID:         uuid.New(),
		WalletID:   walletID,
		Type:       txType,
		Recipient:  recipient,
		Amount:     amount,
		Currency:   currency,
		Memo:       memo,
		Status:     interfaces.TxStatusProposed,
		ProposedBy: proposedBy,
		ProposedAt: now,
		ExpiresAt:  now.Add(sm.config.ProposalTTL),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := sm.repository.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	metrics.ProposalsTotal.WithLabelValues(string(txType)).Inc()
	sm.logger.Info("transaction proposed",
		zap.String("tx_id", tx.ID.String()),
		zap.String("wallet_id", walletID.String()),
		zap.String("type", string(txType)),
		zap.String("amount", amount.String()),
	)
	sm.publishTransition(ctx, tx, "", tx.Status)

	return tx, nil
}

// Get returns a transaction, lazily expiring it when its deadline has passed.
func (sm *TransactionStateMachine) Get(ctx context.Context, txID uuid.UUID) (*interfaces.Transaction, error) {
	var result *interfaces.Transaction
	err := sm.locks.WithLock(txID, func() error {
		tx, err := sm.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		sm.expireLocked(ctx, tx)
		result = tx
		return nil
	})
	return result, err
}

// ListWalletTransactions returns a wallet's transactions, newest first.
// Listing does not lazily expire; reported status may trail the deadline
// until the next per-transaction operation or sweep.
func (sm *TransactionStateMachine) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Transaction, error) {
	return sm.repository.ListWalletTransactions(ctx, walletID, limit, offset)
}

// EvaluateLocked applies the threshold rule to a transaction already held
// under its entity lock. When the distinct-signer count reaches the wallet
// threshold and the transaction is still proposed, it transitions to approved
// in memory and reports true. The caller persists.
func (sm *TransactionStateMachine) EvaluateLocked(tx *interfaces.Transaction, threshold int) bool {
	if tx.Status != interfaces.TxStatusProposed {
		return false
	}
	if tx.DistinctSigners() < threshold {
		return false
	}
	now := time.Now()
	tx.Status = interfaces.TxStatusApproved
	tx.ApprovedAt = &now
	tx.UpdatedAt = now
	metrics.TransitionsTotal.WithLabelValues(string(interfaces.TxStatusProposed), string(interfaces.TxStatusApproved)).Inc()
	return true
}

// EvaluateThreshold re-evaluates a transaction against its wallet threshold
// and persists the approval if reached. Signature submission already performs
// this inline; this entry point serves repair paths.
func (sm *TransactionStateMachine) EvaluateThreshold(ctx context.Context, txID uuid.UUID) (bool, error) {
	reached := false
	err := sm.locks.WithLock(txID, func() error {
		tx, err := sm.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if sm.expireLocked(ctx, tx) {
			return errors.State("transaction %s has expired", txID)
		}
		wallet, err := sm.wallets.GetWallet(ctx, tx.WalletID)
		if err != nil {
			return err
		}
		if !sm.EvaluateLocked(tx, wallet.Threshold) {
			return nil
		}
		if err := sm.repository.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		reached = true
		sm.publishTransition(ctx, tx, interfaces.TxStatusProposed, tx.Status)
		return nil
	})
	return reached, err
}

// Execute submits an approved transaction to the ledger gateway. The entity
// lock is held only to claim the executing transition and again to record the
// outcome; the gateway call itself runs unlocked. Execution is idempotent on
// the caller-supplied idempotency key.
func (sm *TransactionStateMachine) Execute(ctx context.Context, txID uuid.UUID, idempotencyKey string) (*interfaces.Transaction, error) {
	if idempotencyKey != "" {
		if prior, err := sm.claimIdempotencyKey(ctx, txID, idempotencyKey); prior != nil || err != nil {
			return prior, err
		}
	}

	// Phase 1: claim the executing transition under the entity lock.
	var tx *interfaces.Transaction
	var contractRef string
	err := sm.locks.WithLock(txID, func() error {
		loaded, err := sm.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		wallet, err := sm.wallets.GetWallet(ctx, loaded.WalletID)
		if err != nil {
			return err
		}
		contractRef = wallet.ContractRef
		if sm.expireLocked(ctx, loaded) {
			return errors.State("transaction %s has expired", txID)
		}
		switch loaded.Status {
		case interfaces.TxStatusApproved:
			// proceed
		case interfaces.TxStatusProposed:
			return errors.State("transaction %s is not approved", txID)
		case interfaces.TxStatusExecuting:
			return errors.Conflict("transaction %s is already executing", txID)
		default:
			return errors.Conflict("transaction %s is already finalized as %s", txID, loaded.Status)
		}

		loaded.Status = interfaces.TxStatusExecuting
		loaded.IdempotencyKey = idempotencyKey
		loaded.UpdatedAt = time.Now()
		if err := sm.repository.UpdateTransaction(ctx, loaded); err != nil {
			return err
		}
		tx = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(interfaces.TxStatusApproved), string(interfaces.TxStatusExecuting)).Inc()
	sm.publishTransition(ctx, tx, interfaces.TxStatusApproved, interfaces.TxStatusExecuting)

	// Phase 2: long-latency ledger call, no lock held.
	start := time.Now()
	receipt, submitErr := sm.gateway.Submit(ctx, &interfaces.LedgerSubmission{
		TransactionID: tx.ID,
		ContractRef:   contractRef,
		Recipient:     tx.Recipient,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Memo:          tx.Memo,
	})
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	// Phase 3: record the outcome under the lock.
	var result *interfaces.Transaction
	var outcomeErr error
	err = sm.locks.WithLock(txID, func() error {
		loaded, err := sm.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		from := loaded.Status

		if submitErr == nil {
			now := time.Now()
			loaded.Status = interfaces.TxStatusExecuted
			loaded.ExecutedAt = &now
			loaded.ChainTxHash = receipt.TxHash
			loaded.BlockNumber = receipt.BlockNumber
			loaded.Fee = receipt.Fee
			loaded.UpdatedAt = now
		} else if errors.Is(submitErr, interfaces.ErrPermanentLedgerFailure) {
			loaded.Status = interfaces.TxStatusFailed
			loaded.RejectReason = submitErr.Error()
			loaded.UpdatedAt = time.Now()
			outcomeErr = errors.External(submitErr, "ledger rejected transaction %s", txID)
		} else {
			loaded.RetryCount++
			if loaded.RetryCount >= sm.config.MaxExecuteRetries {
				loaded.Status = interfaces.TxStatusFailed
				loaded.RejectReason = submitErr.Error()
				outcomeErr = errors.External(submitErr, "transaction %s failed after %d attempts", txID, loaded.RetryCount)
			} else {
				loaded.Status = interfaces.TxStatusApproved
				outcomeErr = errors.External(submitErr, "transient ledger failure for transaction %s, attempt %d", txID, loaded.RetryCount)
			}
			loaded.UpdatedAt = time.Now()
		}

		if err := sm.repository.UpdateTransaction(ctx, loaded); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(string(from), string(loaded.Status)).Inc()
		sm.publishTransition(ctx, loaded, from, loaded.Status)
		result = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcomeErr != nil {
		return result, outcomeErr
	}

	sm.logger.Info("transaction executed",
		zap.String("tx_id", txID.String()),
		zap.String("chain_tx_hash", result.ChainTxHash),
		zap.Int64("block_number", result.BlockNumber),
	)
	return result, nil
}

// Reject finalizes a transaction with a reason. Allowed only before execution
// begins, by a wallet participant.
func (sm *TransactionStateMachine) Reject(ctx context.Context, txID, callerID uuid.UUID, reason string) (*interfaces.Transaction, error) {
	if reason == "" {
		return nil, errors.Validation("rejection requires a reason")
	}

	var result *interfaces.Transaction
	err := sm.locks.WithLock(txID, func() error {
		tx, err := sm.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if sm.expireLocked(ctx, tx) {
			return errors.State("transaction %s has expired", txID)
		}

		wallet, err := sm.wallets.GetWallet(ctx, tx.WalletID)
		if err != nil {
			return err
		}
		if wallet.ParticipantByUser(callerID) == nil {
			return errors.Permission("caller %s is not a wallet participant", callerID)
		}

		from := tx.Status
		if !IsValidTransition(from, interfaces.TxStatusRejected) {
			if tx.IsTerminal() {
				return errors.Conflict("transaction %s is already finalized as %s", txID, tx.Status)
			}
			return errors.State("transaction %s cannot be rejected while %s", txID, tx.Status)
		}

		tx.Status = interfaces.TxStatusRejected
		tx.RejectReason = reason
		tx.UpdatedAt = time.Now()
		if err := sm.repository.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		metrics.TransitionsTotal.WithLabelValues(string(from), string(tx.Status)).Inc()
		sm.publishTransition(ctx, tx, from, tx.Status)
		result = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.logger.Info("transaction rejected",
		zap.String("tx_id", txID.String()),
		zap.String("reason", reason),
	)
	return result, nil
}

// ExpireStale transitions transactions past their deadline for reporting
// accuracy. Correctness does not depend on it: expiry is also checked lazily
// at the start of every operation.
func (sm *TransactionStateMachine) ExpireStale(ctx context.Context) (int, error) {
	candidates, err := sm.repository.ListTransactionsByStatus(ctx, []interfaces.TxStatus{
		interfaces.TxStatusProposed,
		interfaces.TxStatusApproved,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	now := time.Now()
	for _, candidate := range candidates {
		if !candidate.IsExpired(now) {
			continue
		}
		err := sm.locks.WithLock(candidate.ID, func() error {
			tx, err := sm.repository.GetTransaction(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if sm.expireLocked(ctx, tx) {
				expired++
			}
			return nil
		})
		if err != nil {
			sm.logger.Warn("failed to expire transaction",
				zap.String("tx_id", candidate.ID.String()),
				zap.Error(err),
			)
		}
	}
	return expired, nil
}

// ExpireIfDue applies lazy expiry to a transaction the caller holds under its
// entity lock. Reports whether the transaction is now expired.
func (sm *TransactionStateMachine) ExpireIfDue(ctx context.Context, tx *interfaces.Transaction) bool {
	return sm.expireLocked(ctx, tx)
}

// expireLocked transitions a past-deadline transaction to expired and
// persists it. Must be called with the transaction's lock held. Reports
// whether the transaction is now expired.
func (sm *TransactionStateMachine) expireLocked(ctx context.Context, tx *interfaces.Transaction) bool {
	if tx.Status == interfaces.TxStatusExpired {
		return true
	}
	if !tx.IsExpired(time.Now()) {
		return false
	}

	from := tx.Status
	tx.Status = interfaces.TxStatusExpired
	tx.UpdatedAt = time.Now()
	if err := sm.repository.UpdateTransaction(ctx, tx); err != nil {
		sm.logger.Error("failed to persist expiry",
			zap.String("tx_id", tx.ID.String()),
			zap.Error(err),
		)
		// The in-memory status still blocks the current operation.
	}
	metrics.TransitionsTotal.WithLabelValues(string(from), string(tx.Status)).Inc()
	sm.publishTransition(ctx, tx, from, tx.Status)
	return true
}

// claimIdempotencyKey deduplicates retried execute requests. A key already
// held for the same transaction replays its outcome only when execution
// already reached one, so a transaction pushed back to approved by a
// transient gateway failure re-enters execution on retry. A key held for a
// different transaction is a conflict.
func (sm *TransactionStateMachine) claimIdempotencyKey(ctx context.Context, txID uuid.UUID, key string) (*interfaces.Transaction, error) {
	if sm.cache != nil {
		claimed, holder, err := sm.cache.ClaimIdempotencyKey(ctx, key, txID, sm.config.IdempotencyKeyTTL)
		if err != nil {
			sm.logger.Warn("idempotency key store unavailable, falling back to repository",
				zap.String("key", key), zap.Error(err))
		} else if !claimed {
			if holder != txID {
				return nil, errors.Conflict("idempotency key already used for transaction %s", holder)
			}
			prior, err := sm.repository.GetTransaction(ctx, txID)
			if err != nil {
				return nil, err
			}
			return replayableOutcome(prior), nil
		} else {
			return nil, nil
		}
	}

	prior, err := sm.repository.GetTransactionByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prior.ID != txID {
		return nil, errors.Conflict("idempotency key already used for transaction %s", prior.ID)
	}
	return replayableOutcome(prior), nil
}

// replayableOutcome reports whether a previously claimed execution left a
// state worth replaying. Proposed and approved mean the earlier attempt did
// not stick (transient gateway failure, or execution never started), so the
// retry must run the execute phases again.
func replayableOutcome(tx *interfaces.Transaction) *interfaces.Transaction {
	switch tx.Status {
	case interfaces.TxStatusProposed, interfaces.TxStatusApproved:
		return nil
	}
	return tx
}

func (sm *TransactionStateMachine) validatePayload(txType interfaces.TxType, recipient string, amount decimal.Decimal, currency string) error {
	switch txType {
	case interfaces.TxTypePayment, interfaces.TxTypeDivision:
		if recipient == "" {
			return errors.Validation("%s transaction requires a recipient", txType)
		}
	case interfaces.TxTypeDeposit, interfaces.TxTypeConfiguration:
		// no recipient requirement
	default:
		return errors.Validation("unknown transaction type %q", txType)
	}
	if currency == "" {
		return errors.Validation("currency is required")
	}
	if amount.LessThan(sm.config.MinAmount) {
		return errors.Validation("amount %s below minimum %s", amount, sm.config.MinAmount)
	}
	if amount.GreaterThan(sm.config.MaxAmount) {
		return errors.Validation("amount %s above maximum %s", amount, sm.config.MaxAmount)
	}
	return nil
}

func (sm *TransactionStateMachine) publishTransition(ctx context.Context, tx *interfaces.Transaction, from, to interfaces.TxStatus) {
	if sm.publisher == nil {
		return
	}
	amount := tx.Amount
	event := &interfaces.CustodyEvent{
		ID:       uuid.New(),
		Type:     "transaction.state_changed",
		WalletID: tx.WalletID,
		EntityID: tx.ID,
		Status:   string(to),
		Amount:   &amount,
		Metadata: map[string]interface{}{
			"previous_state": string(from),
			"tx_type":        string(tx.Type),
		},
		Timestamp: time.Now(),
	}
	if err := sm.publisher.Publish(ctx, event); err != nil {
		sm.logger.Warn("failed to publish transaction event",
			zap.String("tx_id", tx.ID.String()),
			zap.Error(err),
		)
	}
}
