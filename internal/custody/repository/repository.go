// Package repository provides the persistence layer for the custody module.
// All entity updates go through an optimistic version check so a lost write
// race surfaces as a conflict instead of silently clobbering state.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// CustodyRepository implements interfaces.CustodyRepository on gorm.
type CustodyRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ interfaces.CustodyRepository = (*CustodyRepository)(nil)

// NewCustodyRepository creates a new gorm-backed repository.
func NewCustodyRepository(db *gorm.DB, logger *zap.Logger) *CustodyRepository {
	return &CustodyRepository{db: db, logger: logger}
}

// Migrate creates or updates the custody schema.
func (r *CustodyRepository) Migrate() error {
	return r.db.AutoMigrate(
		&interfaces.MultisigWallet{},
		&interfaces.Participant{},
		&interfaces.Transaction{},
		&interfaces.Signature{},
		&interfaces.Deposit{},
		&interfaces.FundSplitRule{},
		&interfaces.RuleExecution{},
	)
}

// Wallet operations

// CreateWallet persists a wallet with its participants.
func (r *CustodyRepository) CreateWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return r.translate(err, "wallet")
	}
	return nil
}

// GetWallet retrieves a wallet with its participants.
func (r *CustodyRepository) GetWallet(ctx context.Context, id uuid.UUID) (*interfaces.MultisigWallet, error) {
	var w interfaces.MultisigWallet
	err := r.db.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&w).Error
	if err != nil {
		return nil, r.translate(err, "wallet")
	}
	return &w, nil
}

// UpdateWallet persists wallet mutations, replacing the participant set, with
// an optimistic version check.
func (r *CustodyRepository) UpdateWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&interfaces.MultisigWallet{}).
			Where("id = ? AND version = ?", w.ID, w.Version).
			Updates(map[string]interface{}{
				"contract_ref": w.ContractRef,
				"threshold":    w.Threshold,
				"status":       w.Status,
				"version":      w.Version + 1,
				"updated_at":   w.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Conflict("wallet %s was modified concurrently", w.ID)
		}

		if err := tx.Where("wallet_id = ?", w.ID).Delete(&interfaces.Participant{}).Error; err != nil {
			return err
		}
		if len(w.Participants) > 0 {
			if err := tx.Create(&w.Participants).Error; err != nil {
				return err
			}
		}
		w.Version++
		return nil
	})
}

// Transaction operations

// CreateTransaction persists a new proposal.
func (r *CustodyRepository) CreateTransaction(ctx context.Context, tx *interfaces.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return r.translate(err, "transaction")
	}
	return nil
}

// GetTransaction retrieves a transaction with its signatures in signing
// order.
func (r *CustodyRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*interfaces.Transaction, error) {
	var tx interfaces.Transaction
	err := r.db.WithContext(ctx).
		Preload("Signatures", func(db *gorm.DB) *gorm.DB { return db.Order("signed_at ASC") }).
		Where("id = ?", id).First(&tx).Error
	if err != nil {
		return nil, r.translate(err, "transaction")
	}
	return &tx, nil
}

// UpdateTransaction persists transaction mutations with an optimistic version
// check. Signatures are append-only: rows already present are left untouched.
func (r *CustodyRepository) UpdateTransaction(ctx context.Context, tx *interfaces.Transaction) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Model(&interfaces.Transaction{}).
			Where("id = ? AND version = ?", tx.ID, tx.Version).
			Updates(map[string]interface{}{
				"status":          tx.Status,
				"retry_count":     tx.RetryCount,
				"idempotency_key": tx.IdempotencyKey,
				"chain_tx_hash":   tx.ChainTxHash,
				"block_number":    tx.BlockNumber,
				"fee":             tx.Fee,
				"reject_reason":   tx.RejectReason,
				"approved_at":     tx.ApprovedAt,
				"executed_at":     tx.ExecutedAt,
				"version":         tx.Version + 1,
				"updated_at":      tx.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Conflict("transaction %s was modified concurrently", tx.ID)
		}

		if len(tx.Signatures) > 0 {
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&tx.Signatures).Error; err != nil {
				return err
			}
		}
		tx.Version++
		return nil
	})
}

// GetTransactionByIdempotencyKey retrieves the transaction holding an
// idempotency key.
func (r *CustodyRepository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*interfaces.Transaction, error) {
	var tx interfaces.Transaction
	err := r.db.WithContext(ctx).
		Preload("Signatures").
		Where("idempotency_key = ?", key).First(&tx).Error
	if err != nil {
		return nil, r.translate(err, "transaction")
	}
	return &tx, nil
}

// ListWalletTransactions retrieves a wallet's transactions, newest first.
func (r *CustodyRepository) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Transaction, error) {
	var txs []*interfaces.Transaction
	err := r.db.WithContext(ctx).
		Preload("Signatures").
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	return txs, err
}

// ListTransactionsByStatus retrieves transactions in any of the given states.
func (r *CustodyRepository) ListTransactionsByStatus(ctx context.Context, statuses []interfaces.TxStatus) ([]*interfaces.Transaction, error) {
	var txs []*interfaces.Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Find(&txs).Error
	return txs, err
}

// Deposit operations

// CreateDeposit persists a new deposit. The unique (wallet, chain hash)
// index rejects double registration.
func (r *CustodyRepository) CreateDeposit(ctx context.Context, d *interfaces.Deposit) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return r.translate(err, "deposit")
	}
	return nil
}

// GetDeposit retrieves a deposit by id.
func (r *CustodyRepository) GetDeposit(ctx context.Context, id uuid.UUID) (*interfaces.Deposit, error) {
	var d interfaces.Deposit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		return nil, r.translate(err, "deposit")
	}
	return &d, nil
}

// UpdateDeposit persists deposit mutations with an optimistic version check.
func (r *CustodyRepository) UpdateDeposit(ctx context.Context, d *interfaces.Deposit) error {
	res := r.db.WithContext(ctx).Model(&interfaces.Deposit{}).
		Where("id = ? AND version = ?", d.ID, d.Version).
		Updates(map[string]interface{}{
			"status":        d.Status,
			"confirmations": d.Confirmations,
			"block_number":  d.BlockNumber,
			"fee":           d.Fee,
			"memo":          d.Memo,
			"confirmed_at":  d.ConfirmedAt,
			"version":       d.Version + 1,
			"updated_at":    d.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Conflict("deposit %s was modified concurrently", d.ID)
	}
	d.Version++
	return nil
}

// GetDepositByChainTxHash retrieves the deposit claiming a chain hash on a
// wallet.
func (r *CustodyRepository) GetDepositByChainTxHash(ctx context.Context, walletID uuid.UUID, chainTxHash string) (*interfaces.Deposit, error) {
	var d interfaces.Deposit
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND chain_tx_hash = ?", walletID, chainTxHash).
		First(&d).Error
	if err != nil {
		return nil, r.translate(err, "deposit")
	}
	return &d, nil
}

// ListWalletDeposits retrieves a wallet's deposits, newest first.
func (r *CustodyRepository) ListWalletDeposits(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Deposit, error) {
	var deposits []*interfaces.Deposit
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&deposits).Error
	return deposits, err
}

// ListPendingDeposits retrieves all pending deposits.
func (r *CustodyRepository) ListPendingDeposits(ctx context.Context) ([]*interfaces.Deposit, error) {
	var deposits []*interfaces.Deposit
	err := r.db.WithContext(ctx).
		Where("status = ?", interfaces.DepositStatusPending).
		Find(&deposits).Error
	return deposits, err
}

// Fund split rule operations

// CreateRule persists a new rule.
func (r *CustodyRepository) CreateRule(ctx context.Context, rule *interfaces.FundSplitRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return r.translate(err, "rule")
	}
	return nil
}

// GetRule retrieves a rule by id.
func (r *CustodyRepository) GetRule(ctx context.Context, id uuid.UUID) (*interfaces.FundSplitRule, error) {
	var rule interfaces.FundSplitRule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		return nil, r.translate(err, "rule")
	}
	return &rule, nil
}

// UpdateRule persists rule mutations with an optimistic version check.
func (r *CustodyRepository) UpdateRule(ctx context.Context, rule *interfaces.FundSplitRule) error {
	res := r.db.WithContext(ctx).Model(&interfaces.FundSplitRule{}).
		Where("id = ? AND version = ?", rule.ID, rule.Version).
		Updates(map[string]interface{}{
			"name":       rule.Name,
			"rule_type":  rule.RuleType,
			"priority":   rule.Priority,
			"conditions": rule.Conditions,
			"split":      rule.Split,
			"advanced":   rule.Advanced,
			"status":     rule.Status,
			"version":    rule.Version + 1,
			"updated_at": rule.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Conflict("rule %s was modified concurrently", rule.ID)
	}
	rule.Version++
	return nil
}

// DeleteRule removes a rule and its execution history.
func (r *CustodyRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&interfaces.RuleExecution{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&interfaces.FundSplitRule{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.NotFound("rule %s not found", id)
		}
		return nil
	})
}

// ListActiveRules retrieves a wallet's active rules.
func (r *CustodyRepository) ListActiveRules(ctx context.Context, walletID uuid.UUID) ([]*interfaces.FundSplitRule, error) {
	var rules []*interfaces.FundSplitRule
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND status = ?", walletID, interfaces.RuleStatusActive).
		Order("priority ASC").
		Find(&rules).Error
	return rules, err
}

// ListWalletRules retrieves all of a wallet's rules.
func (r *CustodyRepository) ListWalletRules(ctx context.Context, walletID uuid.UUID) ([]*interfaces.FundSplitRule, error) {
	var rules []*interfaces.FundSplitRule
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("priority ASC").
		Find(&rules).Error
	return rules, err
}

// AppendRuleExecution appends one execution history entry. History is never
// edited.
func (r *CustodyRepository) AppendRuleExecution(ctx context.Context, e *interfaces.RuleExecution) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// CountRuleExecutionsSince counts a rule's executions since the given time.
func (r *CustodyRepository) CountRuleExecutionsSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&interfaces.RuleExecution{}).
		Where("rule_id = ? AND executed_at >= ?", ruleID, since).
		Count(&count).Error
	return int(count), err
}

// LastRuleExecution retrieves a rule's most recent execution entry.
func (r *CustodyRepository) LastRuleExecution(ctx context.Context, ruleID uuid.UUID) (*interfaces.RuleExecution, error) {
	var e interfaces.RuleExecution
	err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("executed_at DESC").
		First(&e).Error
	if err != nil {
		return nil, r.translate(err, "rule execution")
	}
	return &e, nil
}

// translate maps gorm errors to the custody error taxonomy.
func (r *CustodyRepository) translate(err error, entity string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.NotFound("%s not found", entity)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Conflict("%s already exists", entity)
	default:
		return errors.Internal(err, "%s storage failure", entity)
	}
}
