package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// MemoryRepository implements interfaces.CustodyRepository in process with
// the same optimistic version semantics as the gorm repository. It backs
// tests and local development without a database.
type MemoryRepository struct {
	mu         sync.RWMutex
	wallets    map[uuid.UUID]*interfaces.MultisigWallet
	txs        map[uuid.UUID]*interfaces.Transaction
	deposits   map[uuid.UUID]*interfaces.Deposit
	rules      map[uuid.UUID]*interfaces.FundSplitRule
	executions map[uuid.UUID][]*interfaces.RuleExecution
}

var _ interfaces.CustodyRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		wallets:    make(map[uuid.UUID]*interfaces.MultisigWallet),
		txs:        make(map[uuid.UUID]*interfaces.Transaction),
		deposits:   make(map[uuid.UUID]*interfaces.Deposit),
		rules:      make(map[uuid.UUID]*interfaces.FundSplitRule),
		executions: make(map[uuid.UUID][]*interfaces.RuleExecution),
	}
}

// Wallet operations

func (r *MemoryRepository) CreateWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[w.ID]; ok {
		return errors.Conflict("wallet already exists")
	}
	r.wallets[w.ID] = copyWallet(w)
	return nil
}

func (r *MemoryRepository) GetWallet(ctx context.Context, id uuid.UUID) (*interfaces.MultisigWallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, errors.NotFound("wallet not found")
	}
	return copyWallet(w), nil
}

func (r *MemoryRepository) UpdateWallet(ctx context.Context, w *interfaces.MultisigWallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.wallets[w.ID]
	if !ok {
		return errors.NotFound("wallet not found")
	}
	if stored.Version != w.Version {
		return errors.Conflict("wallet %s was modified concurrently", w.ID)
	}
	w.Version++
	r.wallets[w.ID] = copyWallet(w)
	return nil
}

// Transaction operations

func (r *MemoryRepository) CreateTransaction(ctx context.Context, tx *interfaces.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; ok {
		return errors.Conflict("transaction already exists")
	}
	r.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (r *MemoryRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*interfaces.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, errors.NotFound("transaction not found")
	}
	return copyTransaction(tx), nil
}

func (r *MemoryRepository) UpdateTransaction(ctx context.Context, tx *interfaces.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.txs[tx.ID]
	if !ok {
		return errors.NotFound("transaction not found")
	}
	if stored.Version != tx.Version {
		return errors.Conflict("transaction %s was modified concurrently", tx.ID)
	}
	tx.Version++
	r.txs[tx.ID] = copyTransaction(tx)
	return nil
}

func (r *MemoryRepository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*interfaces.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.txs {
		if tx.IdempotencyKey == key {
			return copyTransaction(tx), nil
		}
	}
	return nil, errors.NotFound("transaction not found")
}

func (r *MemoryRepository) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var txs []*interfaces.Transaction
	for _, tx := range r.txs {
		if tx.WalletID == walletID {
			txs = append(txs, copyTransaction(tx))
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	return paginate(txs, limit, offset), nil
}

func (r *MemoryRepository) ListTransactionsByStatus(ctx context.Context, statuses []interfaces.TxStatus) ([]*interfaces.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[interfaces.TxStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}
	var txs []*interfaces.Transaction
	for _, tx := range r.txs {
		if _, ok := want[tx.Status]; ok {
			txs = append(txs, copyTransaction(tx))
		}
	}
	return txs, nil
}

// Deposit operations

func (r *MemoryRepository) CreateDeposit(ctx context.Context, d *interfaces.Deposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.deposits {
		if existing.WalletID == d.WalletID && existing.ChainTxHash == d.ChainTxHash {
			return errors.Conflict("deposit already exists")
		}
	}
	cp := *d
	r.deposits[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetDeposit(ctx context.Context, id uuid.UUID) (*interfaces.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deposits[id]
	if !ok {
		return nil, errors.NotFound("deposit not found")
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) UpdateDeposit(ctx context.Context, d *interfaces.Deposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.deposits[d.ID]
	if !ok {
		return errors.NotFound("deposit not found")
	}
	if stored.Version != d.Version {
		return errors.Conflict("deposit %s was modified concurrently", d.ID)
	}
	d.Version++
	cp := *d
	r.deposits[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetDepositByChainTxHash(ctx context.Context, walletID uuid.UUID, chainTxHash string) (*interfaces.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.deposits {
		if d.WalletID == walletID && d.ChainTxHash == chainTxHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errors.NotFound("deposit not found")
}

func (r *MemoryRepository) ListWalletDeposits(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*interfaces.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var deposits []*interfaces.Deposit
	for _, d := range r.deposits {
		if d.WalletID == walletID {
			cp := *d
			deposits = append(deposits, &cp)
		}
	}
	sort.Slice(deposits, func(i, j int) bool { return deposits[i].CreatedAt.After(deposits[j].CreatedAt) })
	return paginate(deposits, limit, offset), nil
}

func (r *MemoryRepository) ListPendingDeposits(ctx context.Context) ([]*interfaces.Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var deposits []*interfaces.Deposit
	for _, d := range r.deposits {
		if d.Status == interfaces.DepositStatusPending {
			cp := *d
			deposits = append(deposits, &cp)
		}
	}
	return deposits, nil
}

// Fund split rule operations

func (r *MemoryRepository) CreateRule(ctx context.Context, rule *interfaces.FundSplitRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; ok {
		return errors.Conflict("rule already exists")
	}
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetRule(ctx context.Context, id uuid.UUID) (*interfaces.FundSplitRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, errors.NotFound("rule not found")
	}
	cp := *rule
	return &cp, nil
}

func (r *MemoryRepository) UpdateRule(ctx context.Context, rule *interfaces.FundSplitRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rules[rule.ID]
	if !ok {
		return errors.NotFound("rule not found")
	}
	if stored.Version != rule.Version {
		return errors.Conflict("rule %s was modified concurrently", rule.ID)
	}
	rule.Version++
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return errors.NotFound("rule %s not found", id)
	}
	delete(r.rules, id)
	delete(r.executions, id)
	return nil
}

func (r *MemoryRepository) ListActiveRules(ctx context.Context, walletID uuid.UUID) ([]*interfaces.FundSplitRule, error) {
	return r.listRules(walletID, true)
}

func (r *MemoryRepository) ListWalletRules(ctx context.Context, walletID uuid.UUID) ([]*interfaces.FundSplitRule, error) {
	return r.listRules(walletID, false)
}

func (r *MemoryRepository) listRules(walletID uuid.UUID, activeOnly bool) ([]*interfaces.FundSplitRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rules []*interfaces.FundSplitRule
	for _, rule := range r.rules {
		if rule.WalletID != walletID {
			continue
		}
		if activeOnly && rule.Status != interfaces.RuleStatusActive {
			continue
		}
		cp := *rule
		rules = append(rules, &cp)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules, nil
}

func (r *MemoryRepository) AppendRuleExecution(ctx context.Context, e *interfaces.RuleExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.executions[e.RuleID] = append(r.executions[e.RuleID], &cp)
	return nil
}

func (r *MemoryRepository) CountRuleExecutionsSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.executions[ruleID] {
		if !e.ExecutedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) LastRuleExecution(ctx context.Context, ruleID uuid.UUID) (*interfaces.RuleExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.executions[ruleID]
	if len(entries) == 0 {
		return nil, errors.NotFound("rule execution not found")
	}
	last := entries[0]
	for _, e := range entries[1:] {
		if e.ExecutedAt.After(last.ExecutedAt) {
			last = e
		}
	}
	cp := *last
	return &cp, nil
}

func copyWallet(w *interfaces.MultisigWallet) *interfaces.MultisigWallet {
	cp := *w
	cp.Participants = make([]interfaces.Participant, len(w.Participants))
	copy(cp.Participants, w.Participants)
	return &cp
}

func copyTransaction(tx *interfaces.Transaction) *interfaces.Transaction {
	cp := *tx
	cp.Signatures = make([]interfaces.Signature, len(tx.Signatures))
	copy(cp.Signatures, tx.Signatures)
	return &cp
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
