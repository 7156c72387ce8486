// Package signing accumulates and validates signatures against a proposal
// until the wallet threshold is met.
package signing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/metrics"
	"github.com/covault/covault/internal/custody/state"
	"github.com/covault/covault/pkg/errors"
)

// SignatureCollector validates and appends signatures, re-evaluating the
// wallet threshold after each one. The append and the threshold evaluation
// run as one atomic step under the transaction's lock, so two concurrent
// threshold-reaching signatures can never both observe the pre-approval
// count.
type SignatureCollector struct {
	repository interfaces.CustodyRepository
	wallets    state.WalletReader
	verifier   interfaces.SignatureVerifier
	machine    *state.TransactionStateMachine
	locks      *locks.Manager
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
}

// NewSignatureCollector creates a new signature collector.
func NewSignatureCollector(
	repository interfaces.CustodyRepository,
	wallets state.WalletReader,
	verifier interfaces.SignatureVerifier,
	machine *state.TransactionStateMachine,
	lockManager *locks.Manager,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) *SignatureCollector {
	return &SignatureCollector{
		repository: repository,
		wallets:    wallets,
		verifier:   verifier,
		machine:    machine,
		locks:      lockManager,
		publisher:  publisher,
		logger:     logger,
	}
}

// Result reports the signature set after a submission.
type Result struct {
	SignatureCount   int                 `json:"signature_count"`
	ThresholdReached bool                `json:"threshold_reached"`
	Status           interfaces.TxStatus `json:"status"`
}

// SubmitSignature verifies and appends one participant's signature, then
// re-evaluates the threshold. ThresholdReached is true only for the
// submission that tipped the transaction into approved, so exactly one caller
// learns execution is now possible.
func (c *SignatureCollector) SubmitSignature(ctx context.Context, txID, signerID uuid.UUID, publicKey, rawSignature string) (*Result, error) {
	var result *Result

	err := c.locks.WithLock(txID, func() error {
		tx, err := c.repository.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if c.machine.ExpireIfDue(ctx, tx) {
			return errors.State("transaction %s has expired", txID)
		}
		if tx.IsTerminal() {
			return errors.Conflict("transaction %s is already finalized as %s", txID, tx.Status)
		}
		if tx.Status == interfaces.TxStatusExecuting {
			return errors.Conflict("transaction %s is already executing", txID)
		}

		wallet, err := c.wallets.GetWallet(ctx, tx.WalletID)
		if err != nil {
			return err
		}
		participant := wallet.ParticipantByUser(signerID)
		if participant == nil {
			return errors.Permission("signer %s is not a wallet participant", signerID)
		}
		if participant.PublicKey != publicKey {
			return errors.Validation("public key does not match registered key for signer %s", signerID)
		}
		if tx.SignedBy(signerID) {
			return errors.Conflict("signer %s has already signed transaction %s", signerID, txID)
		}

		valid, err := c.verifier.Verify(tx.CanonicalPayload(), publicKey, rawSignature)
		if err != nil {
			return errors.Internal(err, "signature verification failed for transaction %s", txID)
		}
		if !valid {
			return errors.Validation("invalid signature from signer %s", signerID)
		}

		tx.Signatures = append(tx.Signatures, interfaces.Signature{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			SignerID:      signerID,
			PublicKey:     publicKey,
			Signature:     rawSignature,
			SignedAt:      time.Now(),
		})

		reached := c.machine.EvaluateLocked(tx, wallet.Threshold)
		if err := c.repository.UpdateTransaction(ctx, tx); err != nil {
			return err
		}

		metrics.SignaturesTotal.Inc()
		result = &Result{
			SignatureCount:   tx.DistinctSigners(),
			ThresholdReached: reached,
			Status:           tx.Status,
		}
		c.publish(ctx, tx, signerID, reached)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("signature accepted",
		zap.String("tx_id", txID.String()),
		zap.String("signer_id", signerID.String()),
		zap.Int("signature_count", result.SignatureCount),
		zap.Bool("threshold_reached", result.ThresholdReached),
	)
	return result, nil
}

func (c *SignatureCollector) publish(ctx context.Context, tx *interfaces.Transaction, signerID uuid.UUID, reached bool) {
	if c.publisher == nil {
		return
	}
	eventType := "transaction.signed"
	if reached {
		eventType = "transaction.approved"
	}
	event := &interfaces.CustodyEvent{
		ID:       uuid.New(),
		Type:     eventType,
		WalletID: tx.WalletID,
		EntityID: tx.ID,
		Status:   string(tx.Status),
		Metadata: map[string]interface{}{
			"signer_id":       signerID.String(),
			"signature_count": tx.DistinctSigners(),
		},
		Timestamp: time.Now(),
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish signature event",
			zap.String("tx_id", tx.ID.String()),
			zap.Error(err),
		)
	}
}
