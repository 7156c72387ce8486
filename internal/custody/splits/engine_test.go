package splits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/repository"
	"github.com/covault/covault/pkg/errors"
)

type stubWalletReader struct {
	wallet *interfaces.MultisigWallet
}

func (s *stubWalletReader) GetWallet(ctx context.Context, walletID uuid.UUID) (*interfaces.MultisigWallet, error) {
	if s.wallet == nil || s.wallet.ID != walletID {
		return nil, errors.NotFound("wallet not found")
	}
	return s.wallet, nil
}

type recordingProposer struct {
	proposed []*interfaces.Transaction
	fail     error
}

func (p *recordingProposer) Propose(ctx context.Context, walletID, proposedBy uuid.UUID, txType interfaces.TxType, recipient string, amount decimal.Decimal, currency, memo string) (*interfaces.Transaction, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	tx := &interfaces.Transaction{
		ID:         uuid.New(),
		WalletID:   walletID,
		Type:       txType,
		Recipient:  recipient,
		Amount:     amount,
		Currency:   currency,
		Memo:       memo,
		ProposedBy: proposedBy,
		Status:     interfaces.TxStatusProposed,
	}
	p.proposed = append(p.proposed, tx)
	return tx, nil
}

func testWallet() *interfaces.MultisigWallet {
	walletID := uuid.New()
	return &interfaces.MultisigWallet{
		ID:        walletID,
		Threshold: 2,
		Status:    interfaces.WalletStatusActive,
		Participants: []interfaces.Participant{
			{ID: uuid.New(), WalletID: walletID, UserID: uuid.New(), PublicKey: "pk-member", Role: interfaces.RoleParticipant},
			{ID: uuid.New(), WalletID: walletID, UserID: uuid.New(), PublicKey: "pk-admin", Role: interfaces.RoleAdmin},
		},
	}
}

func newTestEngine(t *testing.T, wallet *interfaces.MultisigWallet) (*Engine, *repository.MemoryRepository, *recordingProposer) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	proposer := &recordingProposer{}
	engine := NewEngine(repo, &stubWalletReader{wallet: wallet}, proposer, locks.NewManager(), nil, zap.NewNop())
	return engine, repo, proposer
}

func storeRule(t *testing.T, repo *repository.MemoryRepository, rule *interfaces.FundSplitRule) {
	t.Helper()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Status == "" {
		rule.Status = interfaces.RuleStatusActive
	}
	if rule.Version == 0 {
		rule.Version = 1
	}
	require.NoError(t, repo.CreateRule(context.Background(), rule))
}

func depositTriggeredRule(walletID uuid.UUID, name string, priority int) *interfaces.FundSplitRule {
	return &interfaces.FundSplitRule{
		ID:       uuid.New(),
		WalletID: walletID,
		Name:     name,
		RuleType: interfaces.RuleTypePercentage,
		Priority: priority,
		Conditions: interfaces.RuleConditions{
			TriggerEvents: []interfaces.TriggerEvent{interfaces.TriggerDeposit},
		},
		Split: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
			{Recipient: "ops", Percent: dec("60")},
			{Recipient: "reserve", Percent: dec("40")},
		}},
		CreatedAt: time.Now(),
	}
}

func TestEngine_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("first eligible rule wins by priority", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, _ := newTestEngine(t, wallet)

		low := depositTriggeredRule(wallet.ID, "low-priority", 80)
		high := depositTriggeredRule(wallet.ID, "high-priority", 10)
		storeRule(t, repo, low)
		storeRule(t, repo, high)

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "high-priority", plans[0].RuleName)
	})

	t.Run("non-exclusive rule lets evaluation continue", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, _ := newTestEngine(t, wallet)

		first := depositTriggeredRule(wallet.ID, "first", 10)
		first.Advanced.NonExclusive = true
		second := depositTriggeredRule(wallet.ID, "second", 20)
		storeRule(t, repo, first)
		storeRule(t, repo, second)

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		require.Len(t, plans, 2)
	})

	t.Run("amount outside rule conditions does not match", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, _ := newTestEngine(t, wallet)

		min := dec("500")
		rule := depositTriggeredRule(wallet.ID, "big-deposits-only", 10)
		rule.Conditions.MinAmount = &min
		storeRule(t, repo, rule)

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		assert.Empty(t, plans)
	})

	t.Run("auto-execute proposes one division per positive share", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, proposer := newTestEngine(t, wallet)

		rule := depositTriggeredRule(wallet.ID, "treasury-split", 10)
		rule.Advanced.AutoExecute = true
		storeRule(t, repo, rule)

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.True(t, plans[0].AutoExecuted)
		require.Len(t, proposer.proposed, 2)

		// Division proposals are owned by the first admin participant.
		adminID := wallet.Participants[1].UserID
		for _, tx := range proposer.proposed {
			assert.Equal(t, interfaces.TxTypeDivision, tx.Type)
			assert.Equal(t, adminID, tx.ProposedBy)
			assert.Equal(t, "USDC", tx.Currency)
		}

		// History is appended only on auto-execution.
		count, err := repo.CountRuleExecutionsSince(ctx, rule.ID, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("planned-only rule appends no history", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, proposer := newTestEngine(t, wallet)

		rule := depositTriggeredRule(wallet.ID, "manual-review", 10)
		storeRule(t, repo, rule)

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.False(t, plans[0].AutoExecuted)
		assert.Empty(t, proposer.proposed)

		count, err := repo.CountRuleExecutionsSince(ctx, rule.ID, time.Time{})
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("cooldown skips a recently executed rule", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, _ := newTestEngine(t, wallet)

		rule := depositTriggeredRule(wallet.ID, "cooled", 10)
		rule.Advanced.AutoExecute = true
		rule.Advanced.CooldownSeconds = 3600
		storeRule(t, repo, rule)
		require.NoError(t, repo.AppendRuleExecution(ctx, &interfaces.RuleExecution{
			ID:         uuid.New(),
			RuleID:     rule.ID,
			Outcome:    "executed",
			ExecutedAt: time.Now().Add(-time.Minute),
		}))

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		assert.Empty(t, plans)
	})

	t.Run("daily cap skips a maxed-out rule", func(t *testing.T) {
		wallet := testWallet()
		engine, repo, _ := newTestEngine(t, wallet)

		rule := depositTriggeredRule(wallet.ID, "capped", 10)
		rule.Advanced.AutoExecute = true
		rule.Advanced.MaxExecutionsPerDay = 1
		storeRule(t, repo, rule)
		require.NoError(t, repo.AppendRuleExecution(ctx, &interfaces.RuleExecution{
			ID:         uuid.New(),
			RuleID:     rule.ID,
			Outcome:    "executed",
			ExecutedAt: time.Now(),
		}))

		plans, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.NoError(t, err)
		assert.Empty(t, plans)
	})

	t.Run("inactive wallet rejects evaluation", func(t *testing.T) {
		wallet := testWallet()
		wallet.Status = interfaces.WalletStatusSuspended
		engine, repo, _ := newTestEngine(t, wallet)
		storeRule(t, repo, depositTriggeredRule(wallet.ID, "any", 10))

		_, err := engine.Evaluate(ctx, wallet.ID, dec("100"), "USDC", interfaces.TriggerDeposit)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindState))
	})
}

func TestEngine_Simulate(t *testing.T) {
	ctx := context.Background()
	wallet := testWallet()
	engine, repo, proposer := newTestEngine(t, wallet)

	rule := depositTriggeredRule(wallet.ID, "preview", 10)
	rule.Advanced.AutoExecute = true
	storeRule(t, repo, rule)

	plan, err := engine.Simulate(ctx, rule.ID, dec("250"))
	require.NoError(t, err)
	require.Len(t, plan.Shares, 2)
	assert.True(t, plan.Total().Equal(dec("250")))
	assert.False(t, plan.AutoExecuted)

	// Simulation is pure: no proposals, no history.
	assert.Empty(t, proposer.proposed)
	count, err := repo.CountRuleExecutionsSince(ctx, rule.ID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, count)
}
