package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPermanentLedgerFailure marks a gateway error that must not be retried.
// Gateway errors that do not wrap it are treated as transient.
var ErrPermanentLedgerFailure = errors.New("permanent ledger failure")

// SignatureVerifier verifies a raw signature over a canonical payload.
type SignatureVerifier interface {
	Verify(payload []byte, publicKey, signature string) (bool, error)
}

// LedgerGateway commits approved transactions to the underlying ledger and
// reads back chain state. Submit is long-latency and must never be called
// while holding an entity lock.
type LedgerGateway interface {
	Submit(ctx context.Context, sub *LedgerSubmission) (*LedgerReceipt, error)
	GetConfirmations(ctx context.Context, txHash string) (int, error)
	GetBalance(ctx context.Context, contractRef string) (decimal.Decimal, error)
}

// CustodyRepository is the persistence contract for the four entity types.
// Update methods perform an optimistic version check: they persist only when
// the stored version matches the entity's loaded version, increment it, and
// return a conflict-kind error on a lost race.
type CustodyRepository interface {
	// Wallets
	CreateWallet(ctx context.Context, w *MultisigWallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*MultisigWallet, error)
	UpdateWallet(ctx context.Context, w *MultisigWallet) error

	// Transactions
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*Transaction, error)
	ListTransactionsByStatus(ctx context.Context, statuses []TxStatus) ([]*Transaction, error)

	// Deposits
	CreateDeposit(ctx context.Context, d *Deposit) error
	GetDeposit(ctx context.Context, id uuid.UUID) (*Deposit, error)
	UpdateDeposit(ctx context.Context, d *Deposit) error
	GetDepositByChainTxHash(ctx context.Context, walletID uuid.UUID, chainTxHash string) (*Deposit, error)
	ListWalletDeposits(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*Deposit, error)
	ListPendingDeposits(ctx context.Context) ([]*Deposit, error)

	// Fund split rules
	CreateRule(ctx context.Context, r *FundSplitRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*FundSplitRule, error)
	UpdateRule(ctx context.Context, r *FundSplitRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListActiveRules(ctx context.Context, walletID uuid.UUID) ([]*FundSplitRule, error)
	ListWalletRules(ctx context.Context, walletID uuid.UUID) ([]*FundSplitRule, error)
	AppendRuleExecution(ctx context.Context, e *RuleExecution) error
	CountRuleExecutionsSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error)
	LastRuleExecution(ctx context.Context, ruleID uuid.UUID) (*RuleExecution, error)
}

// CustodyCache is a read-side snapshot cache plus the idempotency-key store
// used to deduplicate retried execute requests.
type CustodyCache interface {
	GetWallet(ctx context.Context, id uuid.UUID) (*MultisigWallet, error)
	SetWallet(ctx context.Context, w *MultisigWallet) error
	InvalidateWallet(ctx context.Context, id uuid.UUID) error

	// ClaimIdempotencyKey atomically claims the key for the given
	// transaction. It returns false when the key is already held, together
	// with the holder's transaction ID.
	ClaimIdempotencyKey(ctx context.Context, key string, txID uuid.UUID, ttl time.Duration) (bool, uuid.UUID, error)
}

// EventPublisher publishes custody events to configured sinks.
type EventPublisher interface {
	Publish(ctx context.Context, event *CustodyEvent) error
}
