package splits

import (
	"github.com/shopspring/decimal"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

// sharePrecision is the decimal precision shares are truncated to before
// remainder assignment.
const sharePrecision = 8

var hundred = decimal.NewFromInt(100)

// ComputeShares partitions an amount per the rule's split configuration. The
// returned shares always sum to the amount exactly for percentage rules; no
// value is created or lost to rounding.
func ComputeShares(rule *interfaces.FundSplitRule, amount decimal.Decimal) ([]interfaces.ShareResult, error) {
	if len(rule.Split.Recipients) == 0 {
		return nil, errors.Validation("rule %s has no recipients configured", rule.ID)
	}

	switch rule.RuleType {
	case interfaces.RuleTypePercentage:
		return computePercentage(rule, amount)
	case interfaces.RuleTypeFixedAmount:
		return computeFixed(rule, amount)
	case interfaces.RuleTypePriorityBased:
		return computePriority(rule, amount)
	default:
		return nil, errors.Validation("unknown rule type %q", rule.RuleType)
	}
}

// computePercentage assigns amount*share% to each recipient, truncated to the
// share precision. The truncation remainder goes to the configured remainder
// recipient, defaulting to the first recipient, so the shares sum to the
// amount exactly.
func computePercentage(rule *interfaces.FundSplitRule, amount decimal.Decimal) ([]interfaces.ShareResult, error) {
	totalPercent := decimal.Zero
	for _, r := range rule.Split.Recipients {
		totalPercent = totalPercent.Add(r.Percent)
	}
	if totalPercent.GreaterThan(hundred) {
		return nil, errors.Validation("percentage shares sum to %s, exceeding 100", totalPercent)
	}

	shares := make([]interfaces.ShareResult, 0, len(rule.Split.Recipients))
	distributed := decimal.Zero
	for _, r := range rule.Split.Recipients {
		share := amount.Mul(r.Percent).Div(hundred).Truncate(sharePrecision)
		shares = append(shares, interfaces.ShareResult{Recipient: r.Recipient, Amount: share})
		distributed = distributed.Add(share)
	}

	remainder := amount.Sub(distributed)
	if remainder.IsPositive() {
		idx := 0
		if rule.Split.RemainderRecipient != "" {
			for i, s := range shares {
				if s.Recipient == rule.Split.RemainderRecipient {
					idx = i
					break
				}
			}
		}
		shares[idx].Amount = shares[idx].Amount.Add(remainder)
	}
	return shares, nil
}

// computeFixed assigns each recipient its configured fixed amount.
func computeFixed(rule *interfaces.FundSplitRule, amount decimal.Decimal) ([]interfaces.ShareResult, error) {
	total := decimal.Zero
	for _, r := range rule.Split.Recipients {
		total = total.Add(r.Amount)
	}
	if total.GreaterThan(amount) {
		return nil, errors.Validation("fixed shares sum to %s, exceeding available amount %s", total, amount)
	}

	shares := make([]interfaces.ShareResult, 0, len(rule.Split.Recipients))
	for _, r := range rule.Split.Recipients {
		shares = append(shares, interfaces.ShareResult{Recipient: r.Recipient, Amount: r.Amount})
	}
	return shares, nil
}

// computePriority pays recipients in configured order up to each cap until
// the amount is exhausted. Later recipients may receive zero. A non-positive
// cap means the recipient takes everything remaining.
func computePriority(rule *interfaces.FundSplitRule, amount decimal.Decimal) ([]interfaces.ShareResult, error) {
	remaining := amount
	shares := make([]interfaces.ShareResult, 0, len(rule.Split.Recipients))
	for _, r := range rule.Split.Recipients {
		share := remaining
		if r.Cap.IsPositive() && r.Cap.LessThan(share) {
			share = r.Cap
		}
		if share.IsNegative() {
			share = decimal.Zero
		}
		shares = append(shares, interfaces.ShareResult{Recipient: r.Recipient, Amount: share})
		remaining = remaining.Sub(share)
	}
	return shares, nil
}

// ValidateSplitConfig rejects configurations that could never produce a valid
// plan.
func ValidateSplitConfig(ruleType interfaces.RuleType, cfg interfaces.SplitConfig) error {
	if len(cfg.Recipients) == 0 {
		return errors.Validation("at least one recipient is required")
	}
	seen := make(map[string]struct{}, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r.Recipient == "" {
			return errors.Validation("recipient address must not be empty")
		}
		if _, dup := seen[r.Recipient]; dup {
			return errors.Validation("duplicate recipient %s", r.Recipient)
		}
		seen[r.Recipient] = struct{}{}
	}

	switch ruleType {
	case interfaces.RuleTypePercentage:
		total := decimal.Zero
		for _, r := range cfg.Recipients {
			if !r.Percent.IsPositive() {
				return errors.Validation("percentage share for %s must be positive", r.Recipient)
			}
			total = total.Add(r.Percent)
		}
		if total.GreaterThan(hundred) {
			return errors.Validation("percentage shares sum to %s, exceeding 100", total)
		}
	case interfaces.RuleTypeFixedAmount:
		for _, r := range cfg.Recipients {
			if !r.Amount.IsPositive() {
				return errors.Validation("fixed amount for %s must be positive", r.Recipient)
			}
		}
	case interfaces.RuleTypePriorityBased:
		// caps are optional
	default:
		return errors.Validation("unknown rule type %q", ruleType)
	}

	if cfg.RemainderRecipient != "" {
		if _, ok := seen[cfg.RemainderRecipient]; !ok {
			return errors.Validation("remainder recipient %s is not a configured recipient", cfg.RemainderRecipient)
		}
	}
	return nil
}
