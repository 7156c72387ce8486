package splits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// RuleSpec carries the caller-supplied rule definition.
type RuleSpec struct {
	Name       string                      `json:"name"`
	RuleType   interfaces.RuleType         `json:"rule_type"`
	Priority   int                         `json:"priority"`
	Conditions interfaces.RuleConditions   `json:"conditions"`
	Split      interfaces.SplitConfig      `json:"split_configuration"`
	Advanced   interfaces.AdvancedSettings `json:"advanced_settings"`
}

// CreateRule creates a distribution rule on a wallet. Admin only.
func (e *Engine) CreateRule(ctx context.Context, walletID, callerID uuid.UUID, spec RuleSpec) (*interfaces.FundSplitRule, error) {
	wallet, err := e.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsAdmin(callerID) {
		return nil, errors.Permission("caller %s is not a wallet admin", callerID)
	}
	if err := validateRuleSpec(spec); err != nil {
		return nil, err
	}

	now := time.Now()
	rule := &interfaces.FundSplitRule{
		ID:         uuid.New(),
		WalletID:   walletID,
		Name:       spec.Name,
		RuleType:   spec.RuleType,
		Priority:   spec.Priority,
		Conditions: spec.Conditions,
		Split:      spec.Split,
		Advanced:   spec.Advanced,
		Status:     interfaces.RuleStatusActive,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.repository.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	e.logger.Info("fund split rule created",
		zap.String("rule_id", rule.ID.String()),
		zap.String("wallet_id", walletID.String()),
		zap.String("rule_type", string(rule.RuleType)),
	)
	return rule, nil
}

// UpdateRule replaces a rule's definition. Admin only. Execution history is
// untouched.
func (e *Engine) UpdateRule(ctx context.Context, ruleID, callerID uuid.UUID, spec RuleSpec) (*interfaces.FundSplitRule, error) {
	if err := validateRuleSpec(spec); err != nil {
		return nil, err
	}
	return e.mutate(ctx, ruleID, callerID, func(r *interfaces.FundSplitRule) error {
		r.Name = spec.Name
		r.RuleType = spec.RuleType
		r.Priority = spec.Priority
		r.Conditions = spec.Conditions
		r.Split = spec.Split
		r.Advanced = spec.Advanced
		return nil
	})
}

// ToggleRule switches a rule between active and inactive. Admin only.
func (e *Engine) ToggleRule(ctx context.Context, ruleID, callerID uuid.UUID, active bool) (*interfaces.FundSplitRule, error) {
	return e.mutate(ctx, ruleID, callerID, func(r *interfaces.FundSplitRule) error {
		if r.Status == interfaces.RuleStatusSuspended {
			return errors.State("rule %s is suspended", ruleID)
		}
		if active {
			r.Status = interfaces.RuleStatusActive
		} else {
			r.Status = interfaces.RuleStatusInactive
		}
		return nil
	})
}

// DeleteRule removes a rule. Admin only.
func (e *Engine) DeleteRule(ctx context.Context, ruleID, callerID uuid.UUID) error {
	rule, err := e.repository.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	wallet, err := e.wallets.GetWallet(ctx, rule.WalletID)
	if err != nil {
		return err
	}
	if !wallet.IsAdmin(callerID) {
		return errors.Permission("caller %s is not a wallet admin", callerID)
	}

	return e.locks.WithLock(ruleID, func() error {
		return e.repository.DeleteRule(ctx, ruleID)
	})
}

// GetRule returns a rule by id.
func (e *Engine) GetRule(ctx context.Context, ruleID uuid.UUID) (*interfaces.FundSplitRule, error) {
	return e.repository.GetRule(ctx, ruleID)
}

// ListWalletRules returns all rules on a wallet regardless of status.
func (e *Engine) ListWalletRules(ctx context.Context, walletID uuid.UUID) ([]*interfaces.FundSplitRule, error) {
	return e.repository.ListWalletRules(ctx, walletID)
}

func (e *Engine) mutate(ctx context.Context, ruleID, callerID uuid.UUID, fn func(*interfaces.FundSplitRule) error) (*interfaces.FundSplitRule, error) {
	var rule *interfaces.FundSplitRule
	err := e.locks.WithLock(ruleID, func() error {
		r, err := e.repository.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		wallet, err := e.wallets.GetWallet(ctx, r.WalletID)
		if err != nil {
			return err
		}
		if !wallet.IsAdmin(callerID) {
			return errors.Permission("caller %s is not a wallet admin", callerID)
		}

		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = time.Now()
		if err := e.repository.UpdateRule(ctx, r); err != nil {
			return err
		}
		rule = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func validateRuleSpec(spec RuleSpec) error {
	if spec.Name == "" {
		return errors.Validation("rule name is required")
	}
	if spec.Priority < 1 || spec.Priority > 100 {
		return errors.Validation("priority must be between 1 and 100, got %d", spec.Priority)
	}
	if len(spec.Conditions.TriggerEvents) == 0 {
		return errors.Validation("at least one trigger event is required")
	}
	if spec.Conditions.MinAmount != nil && spec.Conditions.MaxAmount != nil &&
		spec.Conditions.MaxAmount.LessThan(*spec.Conditions.MinAmount) {
		return errors.Validation("max_amount must not be below min_amount")
	}
	return ValidateSplitConfig(spec.RuleType, spec.Split)
}
