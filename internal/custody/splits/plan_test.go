package splits

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/pkg/errors"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func percentageRule(remainder string, percents map[string]string) *interfaces.FundSplitRule {
	cfg := interfaces.SplitConfig{RemainderRecipient: remainder}
	// Deterministic order matters for remainder defaulting.
	for _, rcpt := range []string{"alice", "bob", "carol"} {
		if p, ok := percents[rcpt]; ok {
			cfg.Recipients = append(cfg.Recipients, interfaces.RecipientShare{
				Recipient: rcpt,
				Percent:   dec(p),
			})
		}
	}
	return &interfaces.FundSplitRule{
		ID:       uuid.New(),
		RuleType: interfaces.RuleTypePercentage,
		Split:    cfg,
	}
}

func TestComputeShares_Percentage(t *testing.T) {
	t.Run("shares sum to amount exactly", func(t *testing.T) {
		rule := percentageRule("", map[string]string{
			"alice": "33.33",
			"bob":   "33.33",
			"carol": "33.34",
		})
		amount := dec("0.00000100")

		shares, err := ComputeShares(rule, amount)
		require.NoError(t, err)
		require.Len(t, shares, 3)

		total := decimal.Zero
		for _, s := range shares {
			total = total.Add(s.Amount)
		}
		assert.True(t, total.Equal(amount), "distributed %s, want %s", total, amount)
	})

	t.Run("remainder goes to configured recipient", func(t *testing.T) {
		rule := percentageRule("bob", map[string]string{
			"alice": "33.33",
			"bob":   "33.33",
			"carol": "33.34",
		})
		amount := dec("1")

		shares, err := ComputeShares(rule, amount)
		require.NoError(t, err)

		byRecipient := map[string]decimal.Decimal{}
		total := decimal.Zero
		for _, s := range shares {
			byRecipient[s.Recipient] = s.Amount
			total = total.Add(s.Amount)
		}
		assert.True(t, total.Equal(amount))
		// bob holds his truncated share plus whatever truncation shaved off.
		assert.True(t, byRecipient["bob"].GreaterThanOrEqual(dec("0.3333")))
	})

	t.Run("remainder defaults to first recipient", func(t *testing.T) {
		rule := percentageRule("", map[string]string{
			"alice": "50",
			"bob":   "50",
		})
		// An amount below the share precision truncates both halves to zero.
		amount := dec("0.00000001")

		shares, err := ComputeShares(rule, amount)
		require.NoError(t, err)
		assert.True(t, shares[0].Amount.Equal(amount), "first recipient got %s", shares[0].Amount)
		assert.True(t, shares[1].Amount.IsZero())
	})

	t.Run("under-allocated percentages leave remainder with remainder recipient", func(t *testing.T) {
		rule := percentageRule("alice", map[string]string{
			"alice": "10",
			"bob":   "20",
		})
		amount := dec("100")

		shares, err := ComputeShares(rule, amount)
		require.NoError(t, err)

		total := decimal.Zero
		for _, s := range shares {
			total = total.Add(s.Amount)
		}
		assert.True(t, total.Equal(amount))
		assert.True(t, shares[0].Amount.Equal(dec("80")), "alice got %s", shares[0].Amount)
	})

	t.Run("rejects percentages above 100", func(t *testing.T) {
		rule := percentageRule("", map[string]string{
			"alice": "60",
			"bob":   "50",
		})
		_, err := ComputeShares(rule, dec("100"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestComputeShares_FixedAmount(t *testing.T) {
	rule := &interfaces.FundSplitRule{
		ID:       uuid.New(),
		RuleType: interfaces.RuleTypeFixedAmount,
		Split: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
			{Recipient: "ops", Amount: dec("10")},
			{Recipient: "reserve", Amount: dec("25.5")},
		}},
	}

	t.Run("pays configured amounts", func(t *testing.T) {
		shares, err := ComputeShares(rule, dec("100"))
		require.NoError(t, err)
		require.Len(t, shares, 2)
		assert.True(t, shares[0].Amount.Equal(dec("10")))
		assert.True(t, shares[1].Amount.Equal(dec("25.5")))
	})

	t.Run("rejects totals above the available amount", func(t *testing.T) {
		_, err := ComputeShares(rule, dec("35"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestComputeShares_PriorityBased(t *testing.T) {
	rule := &interfaces.FundSplitRule{
		ID:       uuid.New(),
		RuleType: interfaces.RuleTypePriorityBased,
		Split: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
			{Recipient: "first", Cap: dec("40")},
			{Recipient: "second", Cap: dec("40")},
			{Recipient: "sweep"}, // no cap, takes the rest
		}},
	}

	t.Run("fills caps in order", func(t *testing.T) {
		shares, err := ComputeShares(rule, dec("100"))
		require.NoError(t, err)
		assert.True(t, shares[0].Amount.Equal(dec("40")))
		assert.True(t, shares[1].Amount.Equal(dec("40")))
		assert.True(t, shares[2].Amount.Equal(dec("20")))
	})

	t.Run("later recipients get zero when exhausted", func(t *testing.T) {
		shares, err := ComputeShares(rule, dec("30"))
		require.NoError(t, err)
		assert.True(t, shares[0].Amount.Equal(dec("30")))
		assert.True(t, shares[1].Amount.IsZero())
		assert.True(t, shares[2].Amount.IsZero())
	})
}

func TestValidateSplitConfig(t *testing.T) {
	tests := []struct {
		name     string
		ruleType interfaces.RuleType
		cfg      interfaces.SplitConfig
		wantErr  bool
	}{
		{
			name:     "valid percentage",
			ruleType: interfaces.RuleTypePercentage,
			cfg: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
				{Recipient: "a", Percent: dec("60")},
				{Recipient: "b", Percent: dec("40")},
			}},
		},
		{
			name:     "no recipients",
			ruleType: interfaces.RuleTypePercentage,
			cfg:      interfaces.SplitConfig{},
			wantErr:  true,
		},
		{
			name:     "duplicate recipient",
			ruleType: interfaces.RuleTypePercentage,
			cfg: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
				{Recipient: "a", Percent: dec("50")},
				{Recipient: "a", Percent: dec("50")},
			}},
			wantErr: true,
		},
		{
			name:     "zero percent share",
			ruleType: interfaces.RuleTypePercentage,
			cfg: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
				{Recipient: "a", Percent: dec("0")},
			}},
			wantErr: true,
		},
		{
			name:     "negative fixed amount",
			ruleType: interfaces.RuleTypeFixedAmount,
			cfg: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
				{Recipient: "a", Amount: dec("-1")},
			}},
			wantErr: true,
		},
		{
			name:     "unknown remainder recipient",
			ruleType: interfaces.RuleTypePercentage,
			cfg: interfaces.SplitConfig{
				Recipients: []interfaces.RecipientShare{
					{Recipient: "a", Percent: dec("100")},
				},
				RemainderRecipient: "stranger",
			},
			wantErr: true,
		},
		{
			name:     "priority caps optional",
			ruleType: interfaces.RuleTypePriorityBased,
			cfg: interfaces.SplitConfig{Recipients: []interfaces.RecipientShare{
				{Recipient: "a"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSplitConfig(tt.ruleType, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
