// Package registry owns multisig wallet entities: participants, threshold,
// status.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/pkg/errors"
)

// WalletRegistry manages multisig wallet lifecycle and membership. All
// mutating operations are serialized per wallet.
type WalletRegistry struct {
	repository interfaces.CustodyRepository
	cache      interfaces.CustodyCache
	locks      *locks.Manager
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
}

// NewWalletRegistry creates a new wallet registry.
func NewWalletRegistry(
	repository interfaces.CustodyRepository,
	cache interfaces.CustodyCache,
	lockManager *locks.Manager,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) *WalletRegistry {
	return &WalletRegistry{
		repository: repository,
		cache:      cache,
		locks:      lockManager,
		publisher:  publisher,
		logger:     logger,
	}
}

// ParticipantSpec describes one participant at wallet creation or addition.
type ParticipantSpec struct {
	UserID    uuid.UUID                  `json:"user_id"`
	PublicKey string                     `json:"public_key"`
	Role      interfaces.ParticipantRole `json:"role"`
}

// CreateWallet creates a wallet with the given participants and threshold.
func (r *WalletRegistry) CreateWallet(ctx context.Context, participants []ParticipantSpec, threshold int, contractRef string) (*interfaces.MultisigWallet, error) {
	if threshold < 1 || threshold > len(participants) {
		return nil, errors.Validation("invalid threshold %d for %d participants", threshold, len(participants))
	}

	seen := make(map[uuid.UUID]struct{}, len(participants))
	for _, p := range participants {
		if _, dup := seen[p.UserID]; dup {
			return nil, errors.Validation("duplicate participant %s", p.UserID)
		}
		seen[p.UserID] = struct{}{}
		if p.PublicKey == "" {
			return nil, errors.Validation("participant %s has no public key", p.UserID)
		}
	}

	now := time.Now()
	wallet := &interfaces.MultisigWallet{
		ID:          uuid.New(),
		ContractRef: contractRef,
		Threshold:   threshold,
		Status:      interfaces.WalletStatusActive,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, p := range participants {
		wallet.Participants = append(wallet.Participants, interfaces.Participant{
			ID:        uuid.New(),
			WalletID:  wallet.ID,
			UserID:    p.UserID,
			PublicKey: p.PublicKey,
			Role:      p.Role,
			CreatedAt: now,
		})
	}

	if err := r.repository.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}

	r.logger.Info("wallet created",
		zap.String("wallet_id", wallet.ID.String()),
		zap.Int("participants", len(wallet.Participants)),
		zap.Int("threshold", wallet.Threshold),
	)
	r.publish(ctx, "wallet.created", wallet)

	return wallet, nil
}

// GetWallet returns the wallet, preferring a cached snapshot. Registry reads
// are the only cross-entity dependency in the core, so serving them from a
// snapshot keeps other entities' operations independent.
func (r *WalletRegistry) GetWallet(ctx context.Context, walletID uuid.UUID) (*interfaces.MultisigWallet, error) {
	if r.cache != nil {
		if w, err := r.cache.GetWallet(ctx, walletID); err == nil && w != nil {
			return w, nil
		}
	}

	wallet, err := r.repository.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetWallet(ctx, wallet); err != nil {
			r.logger.Warn("failed to cache wallet", zap.String("wallet_id", walletID.String()), zap.Error(err))
		}
	}
	return wallet, nil
}

// UpdateThreshold changes the wallet threshold. Admin only.
func (r *WalletRegistry) UpdateThreshold(ctx context.Context, walletID, callerID uuid.UUID, newThreshold int) (*interfaces.MultisigWallet, error) {
	return r.mutate(ctx, walletID, callerID, func(w *interfaces.MultisigWallet) error {
		if newThreshold < 1 || newThreshold > len(w.Participants) {
			return errors.Validation("invalid threshold %d for %d participants", newThreshold, len(w.Participants))
		}
		w.Threshold = newThreshold
		return nil
	}, "wallet.threshold_updated")
}

// AddParticipant adds a participant to the wallet. Admin only.
func (r *WalletRegistry) AddParticipant(ctx context.Context, walletID, callerID uuid.UUID, spec ParticipantSpec) (*interfaces.MultisigWallet, error) {
	return r.mutate(ctx, walletID, callerID, func(w *interfaces.MultisigWallet) error {
		if spec.PublicKey == "" {
			return errors.Validation("participant %s has no public key", spec.UserID)
		}
		if w.ParticipantByUser(spec.UserID) != nil {
			return errors.Conflict("participant %s already in wallet", spec.UserID)
		}
		w.Participants = append(w.Participants, interfaces.Participant{
			ID:        uuid.New(),
			WalletID:  w.ID,
			UserID:    spec.UserID,
			PublicKey: spec.PublicKey,
			Role:      spec.Role,
			CreatedAt: time.Now(),
		})
		return nil
	}, "wallet.participant_added")
}

// RemoveParticipant removes a participant. Removal that would leave the
// threshold above the remaining participant count is rejected.
func (r *WalletRegistry) RemoveParticipant(ctx context.Context, walletID, callerID, userID uuid.UUID) (*interfaces.MultisigWallet, error) {
	return r.mutate(ctx, walletID, callerID, func(w *interfaces.MultisigWallet) error {
		idx := -1
		for i := range w.Participants {
			if w.Participants[i].UserID == userID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.NotFound("participant %s not in wallet", userID)
		}
		if w.Threshold > len(w.Participants)-1 {
			return errors.State("removing participant would leave threshold %d above %d remaining participants",
				w.Threshold, len(w.Participants)-1)
		}
		w.Participants = append(w.Participants[:idx], w.Participants[idx+1:]...)
		return nil
	}, "wallet.participant_removed")
}

// SuspendWallet blocks new operations against the wallet. Wallets are never
// deleted.
func (r *WalletRegistry) SuspendWallet(ctx context.Context, walletID, callerID uuid.UUID) (*interfaces.MultisigWallet, error) {
	return r.mutate(ctx, walletID, callerID, func(w *interfaces.MultisigWallet) error {
		w.Status = interfaces.WalletStatusSuspended
		return nil
	}, "wallet.suspended")
}

// ActivateWallet re-enables a suspended or inactive wallet.
func (r *WalletRegistry) ActivateWallet(ctx context.Context, walletID, callerID uuid.UUID) (*interfaces.MultisigWallet, error) {
	return r.mutate(ctx, walletID, callerID, func(w *interfaces.MultisigWallet) error {
		w.Status = interfaces.WalletStatusActive
		return nil
	}, "wallet.activated")
}

// mutate loads the wallet under its lock, applies fn, and persists with the
// repository's optimistic version check. The threshold invariant is verified
// after every mutation so it can never be observed violated.
func (r *WalletRegistry) mutate(ctx context.Context, walletID, callerID uuid.UUID, fn func(*interfaces.MultisigWallet) error, eventType string) (*interfaces.MultisigWallet, error) {
	var wallet *interfaces.MultisigWallet

	err := r.locks.WithLock(walletID, func() error {
		w, err := r.repository.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if !w.IsAdmin(callerID) {
			return errors.Permission("caller %s is not a wallet admin", callerID)
		}

		if err := fn(w); err != nil {
			return err
		}
		if w.Threshold < 1 || w.Threshold > len(w.Participants) {
			return errors.Internal(nil, "threshold invariant violated for wallet %s", walletID)
		}

		w.UpdatedAt = time.Now()
		if err := r.repository.UpdateWallet(ctx, w); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.InvalidateWallet(ctx, walletID); err != nil {
			r.logger.Warn("failed to invalidate wallet cache", zap.String("wallet_id", walletID.String()), zap.Error(err))
		}
	}
	r.publish(ctx, eventType, wallet)

	return wallet, nil
}

func (r *WalletRegistry) publish(ctx context.Context, eventType string, w *interfaces.MultisigWallet) {
	if r.publisher == nil {
		return
	}
	event := &interfaces.CustodyEvent{
		ID:       uuid.New(),
		Type:     eventType,
		WalletID: w.ID,
		EntityID: w.ID,
		Status:   string(w.Status),
		Metadata: map[string]interface{}{
			"threshold":    w.Threshold,
			"participants": len(w.Participants),
		},
		Timestamp: time.Now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish wallet event", zap.String("type", eventType), zap.Error(err))
	}
}
