// Package splits evaluates fund distribution rules against incoming amounts
// and produces distribution plans.
package splits

import (
	"context"
	"sort"
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

// Proposer creates division transactions for auto-executed distributions.
type Proposer interface {
	Propose(ctx context.Context, walletID, proposedBy uuid.UUID, txType interfaces.TxType, recipient string, amount decimal.Decimal, currency, memo string) (*interfaces.Transaction, error)
}

// Engine evaluates distribution rules. Rule selection is by ascending
// priority value; by default the first eligible rule fires and evaluation
// stops, unless the rule is marked non-exclusive.
type Engine struct {
	repository interfaces.CustodyRepository
	wallets    state.WalletReader
	proposer   Proposer
	locks      *locks.Manager
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
}

// NewEngine creates a new fund split engine.
func NewEngine(
	repository interfaces.CustodyRepository,
	wallets state.WalletReader,
	proposer Proposer,
	lockManager *locks.Manager,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repository: repository,
		wallets:    wallets,
		proposer:   proposer,
		locks:      lockManager,
		publisher:  publisher,
		logger:     logger,
	}
}

// Evaluate selects the matching rules for a trigger, computes distribution
// plans, and auto-executes rules configured to do so by proposing one
// division transaction per recipient share. Execution history is appended
// only for auto-executed rules.
func (e *Engine) Evaluate(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency string, trigger interfaces.TriggerEvent) ([]*interfaces.DistributionPlan, error) {
	wallet, err := e.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, errors.State("wallet %s is %s", walletID, wallet.Status)
	}

	rules, err := e.matchingRules(ctx, walletID, amount, trigger)
	if err != nil {
		return nil, err
	}

	var plans []*interfaces.DistributionPlan
	for _, rule := range rules {
		plan, fired, err := e.evaluateRule(ctx, wallet, rule, amount, currency, trigger)
		if err != nil {
			metrics.SplitEvaluationsTotal.WithLabelValues("error").Inc()
			return plans, err
		}
		if !fired {
			continue
		}
		plans = append(plans, plan)
		if !rule.Advanced.NonExclusive {
			break
		}
	}

	if len(plans) == 0 {
		metrics.SplitEvaluationsTotal.WithLabelValues("no_match").Inc()
	}
	return plans, nil
}

// Simulate computes a distribution plan for a rule without touching execution
// history or creating transactions. Used for dry-run previews.
func (e *Engine) Simulate(ctx context.Context, ruleID uuid.UUID, amount decimal.Decimal) (*interfaces.DistributionPlan, error) {
	rule, err := e.repository.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	shares, err := ComputeShares(rule, amount)
	if err != nil {
		return nil, err
	}
	return &interfaces.DistributionPlan{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		WalletID: rule.WalletID,
		Amount:   amount,
		Shares:   shares,
	}, nil
}

// matchingRules returns active rules matching the trigger and amount, in
// evaluation order: ascending priority value, creation time as tie-break.
func (e *Engine) matchingRules(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, trigger interfaces.TriggerEvent) ([]*interfaces.FundSplitRule, error) {
	active, err := e.repository.ListActiveRules(ctx, walletID)
	if err != nil {
		return nil, err
	}

	var rules []*interfaces.FundSplitRule
	for _, r := range active {
		if r.Conditions.Matches(trigger, amount) {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// evaluateRule fires one rule under its entity lock. It reports fired=false
// when the rule is skipped for cooldown or daily-cap reasons.
func (e *Engine) evaluateRule(ctx context.Context, wallet *interfaces.MultisigWallet, rule *interfaces.FundSplitRule, amount decimal.Decimal, currency string, trigger interfaces.TriggerEvent) (*interfaces.DistributionPlan, bool, error) {
	var plan *interfaces.DistributionPlan
	fired := false

	err := e.locks.WithLock(rule.ID, func() error {
		eligible, err := e.eligible(ctx, rule)
		if err != nil {
			return err
		}
		if !eligible {
			metrics.SplitEvaluationsTotal.WithLabelValues("skipped").Inc()
			return nil
		}

		shares, err := ComputeShares(rule, amount)
		if err != nil {
			return err
		}

		plan = &interfaces.DistributionPlan{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			WalletID: wallet.ID,
			Trigger:  trigger,
			Amount:   amount,
			Shares:   shares,
		}
		fired = true

		if !rule.Advanced.AutoExecute {
			metrics.SplitEvaluationsTotal.WithLabelValues("planned").Inc()
			return nil
		}

		proposedBy := e.systemProposer(wallet)
		for _, share := range shares {
			if share.Amount.LessThanOrEqual(decimal.Zero) {
				continue
			}
			tx, err := e.proposer.Propose(ctx, wallet.ID, proposedBy, interfaces.TxTypeDivision,
				share.Recipient, share.Amount, currency, "distribution by rule "+rule.Name)
			if err != nil {
				return errors.Wrap(err, errors.KindOf(err), "failed to propose division for rule %s", rule.ID)
			}
			plan.TransactionIDs = append(plan.TransactionIDs, tx.ID)
		}
		plan.AutoExecuted = true

		execution := &interfaces.RuleExecution{
			ID:            uuid.New(),
			RuleID:        rule.ID,
			TriggerAmount: amount,
			Trigger:       trigger,
			Distribution:  shares,
			Outcome:       "executed",
			ExecutedAt:    time.Now(),
		}
		if err := e.repository.AppendRuleExecution(ctx, execution); err != nil {
			return err
		}

		metrics.SplitEvaluationsTotal.WithLabelValues("executed").Inc()
		e.publish(ctx, rule, plan)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return plan, fired, nil
}

// eligible checks the rule's cooldown and daily execution cap. Must be called
// with the rule's lock held so two concurrent triggers cannot both pass the
// cap check.
func (e *Engine) eligible(ctx context.Context, rule *interfaces.FundSplitRule) (bool, error) {
	if rule.Advanced.CooldownSeconds > 0 {
		last, err := e.repository.LastRuleExecution(ctx, rule.ID)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return false, err
		}
		if last != nil {
			cooldown := time.Duration(rule.Advanced.CooldownSeconds) * time.Second
			if time.Since(last.ExecutedAt) < cooldown {
				return false, nil
			}
		}
	}

	if rule.Advanced.MaxExecutionsPerDay > 0 {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		count, err := e.repository.CountRuleExecutionsSince(ctx, rule.ID, dayStart)
		if err != nil {
			return false, err
		}
		if count >= rule.Advanced.MaxExecutionsPerDay {
			return false, nil
		}
	}
	return true, nil
}

// systemProposer picks the participant that owns auto-created division
// proposals: the first admin, falling back to the first participant.
func (e *Engine) systemProposer(wallet *interfaces.MultisigWallet) uuid.UUID {
	for i := range wallet.Participants {
		if wallet.Participants[i].Role == interfaces.RoleAdmin {
			return wallet.Participants[i].UserID
		}
	}
	if len(wallet.Participants) > 0 {
		return wallet.Participants[0].UserID
	}
	return uuid.Nil
}

func (e *Engine) publish(ctx context.Context, rule *interfaces.FundSplitRule, plan *interfaces.DistributionPlan) {
	if e.publisher == nil || !rule.Advanced.NotifyOnExecution {
		return
	}
	amount := plan.Amount
	event := &interfaces.CustodyEvent{
		ID:       uuid.New(),
		Type:     "split.executed",
		WalletID: plan.WalletID,
		EntityID: rule.ID,
		Amount:   &amount,
		Metadata: map[string]interface{}{
			"rule_name":    rule.Name,
			"shares":       len(plan.Shares),
			"transactions": len(plan.TransactionIDs),
		},
		Timestamp: time.Now(),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish split event",
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err),
		)
	}
}
