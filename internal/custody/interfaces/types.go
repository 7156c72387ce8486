// Package interfaces provides types and interfaces for the custody module
package interfaces

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletStatus represents multisig wallet status
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusInactive  WalletStatus = "inactive"
	WalletStatusSuspended WalletStatus = "suspended"
)

// ParticipantRole represents a participant's role in a wallet
type ParticipantRole string

const (
	RoleAdmin       ParticipantRole = "admin"
	RoleParticipant ParticipantRole = "participant"
)

// TxType represents transaction type
type TxType string

const (
	TxTypePayment       TxType = "payment"
	TxTypeDeposit       TxType = "deposit"
	TxTypeDivision      TxType = "division"
	TxTypeConfiguration TxType = "configuration"
)

// TxStatus represents transaction status
type TxStatus string

const (
	TxStatusProposed  TxStatus = "proposed"
	TxStatusApproved  TxStatus = "approved"
	TxStatusExecuting TxStatus = "executing"
	TxStatusExecuted  TxStatus = "executed"
	TxStatusRejected  TxStatus = "rejected"
	TxStatusExpired   TxStatus = "expired"
	TxStatusFailed    TxStatus = "failed"
)

// DepositStatus represents deposit status
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusFailed    DepositStatus = "failed"
	DepositStatusCancelled DepositStatus = "cancelled"
)

// RuleType represents fund split rule type
type RuleType string

const (
	RuleTypePercentage    RuleType = "percentage"
	RuleTypeFixedAmount   RuleType = "fixed_amount"
	RuleTypePriorityBased RuleType = "priority_based"
)

// RuleStatus represents fund split rule status
type RuleStatus string

const (
	RuleStatusActive    RuleStatus = "active"
	RuleStatusInactive  RuleStatus = "inactive"
	RuleStatusSuspended RuleStatus = "suspended"
)

// TriggerEvent represents a fund split trigger
type TriggerEvent string

const (
	TriggerDeposit         TriggerEvent = "deposit"
	TriggerPaymentReceived TriggerEvent = "payment_received"
	TriggerManual          TriggerEvent = "manual_trigger"
	TriggerScheduled       TriggerEvent = "scheduled"
)

// MultisigWallet represents a jointly custodied wallet
type MultisigWallet struct {
	ID           uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid"`
	ContractRef  string        `json:"contract_ref" gorm:"size:100;index"`
	Threshold    int           `json:"threshold" gorm:"not null"`
	Status       WalletStatus  `json:"status" gorm:"size:20;index"`
	Participants []Participant `json:"participants" gorm:"foreignKey:WalletID"`
	Version      int64         `json:"version" gorm:"default:1"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant represents a wallet participant
type Participant struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID  uuid.UUID       `json:"wallet_id" gorm:"type:uuid;index"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	PublicKey string          `json:"public_key" gorm:"size:200"`
	Role      ParticipantRole `json:"role" gorm:"size:20"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsActive reports whether the wallet accepts new operations.
func (w *MultisigWallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// ParticipantByUser returns the participant entry for a user, or nil.
func (w *MultisigWallet) ParticipantByUser(userID uuid.UUID) *Participant {
	for i := range w.Participants {
		if w.Participants[i].UserID == userID {
			return &w.Participants[i]
		}
	}
	return nil
}

// IsAdmin reports whether the user is an admin participant of the wallet.
func (w *MultisigWallet) IsAdmin(userID uuid.UUID) bool {
	p := w.ParticipantByUser(userID)
	return p != nil && p.Role == RoleAdmin
}

// Transaction represents a proposal tracked through the approval state machine
type Transaction struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID       uuid.UUID       `json:"wallet_id" gorm:"type:uuid;index"`
	Type           TxType          `json:"type" gorm:"size:20;index"`
	Recipient      string          `json:"recipient" gorm:"size:100"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(30,8)"`
	Currency       string          `json:"currency" gorm:"size:10"`
	Memo           string          `json:"memo" gorm:"size:500"`
	Status         TxStatus        `json:"status" gorm:"size:20;index"`
	Signatures     []Signature     `json:"signatures" gorm:"foreignKey:TransactionID"`
	ProposedBy     uuid.UUID       `json:"proposed_by" gorm:"type:uuid"`
	RetryCount     int             `json:"retry_count" gorm:"default:0"`
	IdempotencyKey string          `json:"idempotency_key" gorm:"size:100;index"`
	ChainTxHash    string          `json:"chain_tx_hash" gorm:"size:100;index"`
	BlockNumber    int64           `json:"block_number"`
	Fee            decimal.Decimal `json:"fee" gorm:"type:decimal(30,8)"`
	RejectReason   string          `json:"reject_reason" gorm:"size:500"`
	ProposedAt     time.Time       `json:"proposed_at"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	ExecutedAt     *time.Time      `json:"executed_at,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at" gorm:"index"`
	Version        int64           `json:"version" gorm:"default:1"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Signature represents one participant's signature on a transaction
type Signature struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	TransactionID uuid.UUID `json:"transaction_id" gorm:"type:uuid;index"`
	SignerID      uuid.UUID `json:"signer_id" gorm:"type:uuid;index"`
	PublicKey     string    `json:"public_key" gorm:"size:200"`
	Signature     string    `json:"signature" gorm:"size:300"`
	SignedAt      time.Time `json:"signed_at"`
}

// IsTerminal reports whether the transaction can no longer change state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TxStatusExecuted, TxStatusRejected, TxStatusExpired, TxStatusFailed:
		return true
	}
	return false
}

// IsExpired reports whether the expiry deadline has passed for a transaction
// still awaiting approval or execution.
func (t *Transaction) IsExpired(now time.Time) bool {
	if t.Status != TxStatusProposed && t.Status != TxStatusApproved {
		return false
	}
	return now.After(t.ExpiresAt)
}

// SignedBy reports whether the signer already has a signature on file.
func (t *Transaction) SignedBy(signerID uuid.UUID) bool {
	for i := range t.Signatures {
		if t.Signatures[i].SignerID == signerID {
			return true
		}
	}
	return false
}

// DistinctSigners returns the number of distinct signers on the transaction.
func (t *Transaction) DistinctSigners() int {
	seen := make(map[uuid.UUID]struct{}, len(t.Signatures))
	for i := range t.Signatures {
		seen[t.Signatures[i].SignerID] = struct{}{}
	}
	return len(seen)
}

// CanonicalPayload returns the deterministic byte representation signed by
// participants. Any change to the economically relevant fields invalidates
// previously collected signatures.
func (t *Transaction) CanonicalPayload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d",
		t.WalletID, t.Type, t.Recipient, t.Amount.String(), t.Currency, t.Memo,
		t.ProposedAt.UTC().UnixNano()))
}

// Deposit represents an inbound deposit awaiting chain confirmations
type Deposit struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID      uuid.UUID       `json:"wallet_id" gorm:"type:uuid;uniqueIndex:idx_wallet_chain_tx"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(30,8)"`
	Currency      string          `json:"currency" gorm:"size:10"`
	SourceAddress string          `json:"source_address" gorm:"size:100"`
	ChainTxHash   string          `json:"chain_tx_hash" gorm:"size:100;uniqueIndex:idx_wallet_chain_tx"`
	Memo          string          `json:"memo" gorm:"size:500"`
	FailReason    string          `json:"fail_reason,omitempty" gorm:"size:500"`
	Status        DepositStatus   `json:"status" gorm:"size:20;index"`
	Confirmations int             `json:"confirmations" gorm:"default:0"`
	BlockNumber   int64           `json:"block_number"`
	Fee           decimal.Decimal `json:"fee" gorm:"type:decimal(30,8)"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	Version       int64           `json:"version" gorm:"default:1"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// FundSplitRule represents a configured distribution policy
type FundSplitRule struct {
	ID         uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID   uuid.UUID        `json:"wallet_id" gorm:"type:uuid;index"`
	Name       string           `json:"name" gorm:"size:100"`
	RuleType   RuleType         `json:"rule_type" gorm:"size:20"`
	Priority   int              `json:"priority" gorm:"default:50"`
	Conditions RuleConditions   `json:"conditions" gorm:"type:jsonb;serializer:json"`
	Split      SplitConfig      `json:"split_configuration" gorm:"type:jsonb;serializer:json"`
	Advanced   AdvancedSettings `json:"advanced_settings" gorm:"type:jsonb;serializer:json"`
	Status     RuleStatus       `json:"status" gorm:"size:20;index"`
	Version    int64            `json:"version" gorm:"default:1"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RuleConditions gate rule applicability
type RuleConditions struct {
	MinAmount     *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	TriggerEvents []TriggerEvent   `json:"trigger_events"`
}

// Matches reports whether the rule applies to the given trigger and amount.
func (c *RuleConditions) Matches(trigger TriggerEvent, amount decimal.Decimal) bool {
	found := false
	for _, t := range c.TriggerEvents {
		if t == trigger {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if c.MinAmount != nil && amount.LessThan(*c.MinAmount) {
		return false
	}
	if c.MaxAmount != nil && amount.GreaterThan(*c.MaxAmount) {
		return false
	}
	return true
}

// SplitConfig describes how an amount is partitioned among recipients
type SplitConfig struct {
	Recipients []RecipientShare `json:"recipients"`
	// RemainderRecipient receives rounding remainder for percentage rules.
	// Empty means the first configured recipient.
	RemainderRecipient string `json:"remainder_recipient,omitempty"`
}

// RecipientShare describes one recipient's share. Percent applies to
// percentage rules, Amount to fixed_amount rules, Cap to priority_based
// rules; recipient order is the payout order for priority_based rules.
type RecipientShare struct {
	Recipient string          `json:"recipient"`
	Percent   decimal.Decimal `json:"percent,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	Cap       decimal.Decimal `json:"cap,omitempty"`
}

// AdvancedSettings control rule execution behavior
type AdvancedSettings struct {
	AutoExecute         bool `json:"auto_execute"`
	MaxExecutionsPerDay int  `json:"max_executions_per_day,omitempty"`
	CooldownSeconds     int  `json:"cooldown_seconds,omitempty"`
	// NonExclusive lets evaluation continue to further matching rules.
	NonExclusive      bool `json:"non_exclusive,omitempty"`
	NotifyOnExecution bool `json:"notify_on_execution,omitempty"`
}

// RuleExecution is one append-only execution history entry
type RuleExecution struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	RuleID        uuid.UUID       `json:"rule_id" gorm:"type:uuid;index"`
	TriggerAmount decimal.Decimal `json:"trigger_amount" gorm:"type:decimal(30,8)"`
	Trigger       TriggerEvent    `json:"trigger" gorm:"size:30"`
	Distribution  []ShareResult   `json:"distribution" gorm:"type:jsonb;serializer:json"`
	Outcome       string          `json:"outcome" gorm:"size:50"`
	ExecutedAt    time.Time       `json:"executed_at" gorm:"index"`
}

// ShareResult is one recipient's computed share in a distribution plan
type ShareResult struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// DistributionPlan is the result of evaluating or simulating a split rule
type DistributionPlan struct {
	RuleID         uuid.UUID       `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	WalletID       uuid.UUID       `json:"wallet_id"`
	Trigger        TriggerEvent    `json:"trigger"`
	Amount         decimal.Decimal `json:"amount"`
	Shares         []ShareResult   `json:"shares"`
	AutoExecuted   bool            `json:"auto_executed"`
	TransactionIDs []uuid.UUID     `json:"transaction_ids,omitempty"`
}

// Total returns the sum of all computed shares.
func (p *DistributionPlan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range p.Shares {
		total = total.Add(s.Amount)
	}
	return total
}

// LedgerSubmission is the payload handed to the ledger gateway on execute
type LedgerSubmission struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	ContractRef   string          `json:"contract_ref"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Memo          string          `json:"memo,omitempty"`
}

// LedgerReceipt is the gateway's acknowledgement of a committed submission
type LedgerReceipt struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber int64           `json:"block_number"`
	Fee         decimal.Decimal `json:"fee"`
}

// CustodyEvent is published on every committed state transition
type CustodyEvent struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	WalletID  uuid.UUID              `json:"wallet_id"`
	EntityID  uuid.UUID              `json:"entity_id"`
	Status    string                 `json:"status,omitempty"`
	Amount    *decimal.Decimal       `json:"amount,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
