// Package custody wires the approval and distribution components into one
// service facade.
package custody

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/config"
	"github.com/covault/covault/internal/custody/deposits"
	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/registry"
	"github.com/covault/covault/internal/custody/signing"
	"github.com/covault/covault/internal/custody/splits"
	"github.com/covault/covault/internal/custody/state"
	"github.com/covault/covault/pkg/errors"
)

// Service is the custody facade. All five components share one lock manager
// so concurrent operations on the same entity serialize regardless of which
// component they enter through.
type Service struct {
	Wallets      *registry.WalletRegistry
	Transactions *state.TransactionStateMachine
	Signatures   *signing.SignatureCollector
	Deposits     *deposits.ConfirmationTracker
	Splits       *splits.Engine

	repository interfaces.CustodyRepository
	gateway    interfaces.LedgerGateway
	locks      *locks.Manager
	logger     *zap.Logger
}

// New assembles the custody service from its collaborators.
func New(
	repository interfaces.CustodyRepository,
	cache interfaces.CustodyCache,
	gateway interfaces.LedgerGateway,
	verifier interfaces.SignatureVerifier,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	cfg config.CustodyConfig,
) *Service {
	lockManager := locks.NewManager()

	wallets := registry.NewWalletRegistry(repository, cache, lockManager, publisher, logger)
	machine := state.NewTransactionStateMachine(repository, wallets, gateway, cache, lockManager, publisher, logger, state.Config{
		ProposalTTL:       cfg.ProposalTTL,
		MinAmount:         cfg.MinAmount,
		MaxAmount:         cfg.MaxAmount,
		MaxExecuteRetries: cfg.MaxExecuteRetries,
		IdempotencyKeyTTL: cfg.IdempotencyKeyTTL,
	})
	collector := signing.NewSignatureCollector(repository, wallets, verifier, machine, lockManager, publisher, logger)
	engine := splits.NewEngine(repository, wallets, machine, lockManager, publisher, logger)
	tracker := deposits.NewConfirmationTracker(repository, wallets, engine, lockManager, publisher, logger, cfg.MinConfirmations)

	return &Service{
		Wallets:      wallets,
		Transactions: machine,
		Signatures:   collector,
		Deposits:     tracker,
		Splits:       engine,
		repository:   repository,
		gateway:      gateway,
		locks:        lockManager,
		logger:       logger,
	}
}

// ReconcileTransaction repairs a transaction stuck in executing after a
// crash between gateway submission and outcome recording. The ledger is the
// source of truth: a mined chain transaction means executed, regardless of
// what the local row says.
func (s *Service) ReconcileTransaction(ctx context.Context, txID uuid.UUID) (*interfaces.Transaction, error) {
	tx, err := s.repository.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != interfaces.TxStatusExecuting {
		return tx, nil
	}
	if tx.ChainTxHash == "" {
		// Nothing reached the ledger under a traceable hash, so there is
		// nothing to reconcile against.
		return tx, errors.State("transaction %s is executing with no chain hash", txID)
	}

	confirmations, err := s.gateway.GetConfirmations(ctx, tx.ChainTxHash)
	if err != nil {
		return nil, err
	}
	if confirmations == 0 {
		return tx, nil
	}

	s.locks.Lock(tx.ID)
	defer s.locks.Unlock(tx.ID)
	tx, err = s.repository.GetTransaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if tx.Status != interfaces.TxStatusExecuting {
		return tx, nil
	}
	now := time.Now()
	tx.Status = interfaces.TxStatusExecuted
	tx.ExecutedAt = &now
	tx.UpdatedAt = now
	if err := s.repository.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	s.logger.Info("reconciled transaction against ledger",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("chain_tx_hash", tx.ChainTxHash),
		zap.Int("confirmations", confirmations),
	)
	return tx, nil
}
