package deposits

import (
	"context"
	"testing"

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

// recordingSplitTrigger captures every distribution evaluation request.
type recordingSplitTrigger struct {
	walletIDs []uuid.UUID
	amounts   []decimal.Decimal
	triggers  []interfaces.TriggerEvent
}

func (r *recordingSplitTrigger) Evaluate(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency string, trigger interfaces.TriggerEvent) ([]*interfaces.DistributionPlan, error) {
	r.walletIDs = append(r.walletIDs, walletID)
	r.amounts = append(r.amounts, amount)
	r.triggers = append(r.triggers, trigger)
	return nil, nil
}

func newTestTracker(t *testing.T, minConfirmations int) (*ConfirmationTracker, *interfaces.MultisigWallet, *recordingSplitTrigger) {
	t.Helper()
	walletID := uuid.New()
	wallet := &interfaces.MultisigWallet{
		ID:          walletID,
		ContractRef: "0x00000000000000000000000000000000deadbeef",
		Threshold:   2,
		Status:      interfaces.WalletStatusActive,
		Participants: []interfaces.Participant{
			{ID: uuid.New(), WalletID: walletID, UserID: uuid.New(), PublicKey: "pk-a", Role: interfaces.RoleAdmin},
			{ID: uuid.New(), WalletID: walletID, UserID: uuid.New(), PublicKey: "pk-b", Role: interfaces.RoleParticipant},
		},
	}
	splits := &recordingSplitTrigger{}
	tracker := NewConfirmationTracker(repository.NewMemoryRepository(), &stubWalletReader{wallet: wallet},
		splits, locks.NewManager(), nil, zap.NewNop(), minConfirmations)
	return tracker, wallet, splits
}

func register(t *testing.T, tracker *ConfirmationTracker, walletID uuid.UUID, hash string) *interfaces.Deposit {
	t.Helper()
	d, err := tracker.RegisterDeposit(context.Background(), walletID,
		decimal.NewFromInt(100), "USDC", "0xsource", hash, "")
	require.NoError(t, err)
	return d
}

func TestRegisterDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("records a pending deposit", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")
		assert.Equal(t, interfaces.DepositStatusPending, d.Status)
		assert.Equal(t, "0xhash1", d.ChainTxHash)
	})

	t.Run("requires a chain hash and a positive amount", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		_, err := tracker.RegisterDeposit(ctx, wallet.ID, decimal.NewFromInt(100), "USDC", "0xs", "", "")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
		_, err = tracker.RegisterDeposit(ctx, wallet.ID, decimal.Zero, "USDC", "0xs", "0xhash", "")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("same hash cannot be claimed twice per wallet", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		register(t, tracker, wallet.ID, "0xhash1")
		_, err := tracker.RegisterDeposit(ctx, wallet.ID, decimal.NewFromInt(50), "USDC", "0xs", "0xhash1", "")
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("suspended wallet refuses deposits", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		wallet.Status = interfaces.WalletStatusSuspended
		_, err := tracker.RegisterDeposit(ctx, wallet.ID, decimal.NewFromInt(100), "USDC", "0xs", "0xhash", "")
		assert.True(t, errors.IsKind(err, errors.KindState))
	})
}

func TestConfirmDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms and hands off to distribution", func(t *testing.T) {
		tracker, wallet, splits := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")

		confirmed, err := tracker.ConfirmDeposit(ctx, d.ID, 1200, 8, decimal.NewFromFloat(0.001))
		require.NoError(t, err)
		assert.Equal(t, interfaces.DepositStatusConfirmed, confirmed.Status)
		assert.Equal(t, 8, confirmed.Confirmations)
		assert.Equal(t, int64(1200), confirmed.BlockNumber)
		require.NotNil(t, confirmed.ConfirmedAt)

		require.Len(t, splits.triggers, 1)
		assert.Equal(t, interfaces.TriggerDeposit, splits.triggers[0])
		assert.Equal(t, wallet.ID, splits.walletIDs[0])
		assert.True(t, splits.amounts[0].Equal(decimal.NewFromInt(100)))
	})

	t.Run("below minimum confirmations is refused", func(t *testing.T) {
		tracker, wallet, splits := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")

		_, err := tracker.ConfirmDeposit(ctx, d.ID, 1200, 5, decimal.Zero)
		assert.True(t, errors.IsKind(err, errors.KindState))
		assert.Empty(t, splits.triggers)
	})

	t.Run("double confirmation conflicts and splits run once", func(t *testing.T) {
		tracker, wallet, splits := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")

		_, err := tracker.ConfirmDeposit(ctx, d.ID, 1200, 8, decimal.Zero)
		require.NoError(t, err)
		_, err = tracker.ConfirmDeposit(ctx, d.ID, 1201, 9, decimal.Zero)
		assert.True(t, errors.IsKind(err, errors.KindConflict))
		assert.Len(t, splits.triggers, 1)
	})
}

func TestDepositLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel pending", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")

		cancelled, err := tracker.CancelDeposit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DepositStatusCancelled, cancelled.Status)

		// Cancelled is terminal.
		_, err = tracker.ConfirmDeposit(ctx, d.ID, 1200, 8, decimal.Zero)
		assert.True(t, errors.IsKind(err, errors.KindState))
	})

	t.Run("confirmed deposit cannot be cancelled", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")
		_, err := tracker.ConfirmDeposit(ctx, d.ID, 1200, 8, decimal.Zero)
		require.NoError(t, err)

		_, err = tracker.CancelDeposit(ctx, d.ID)
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("fail records the reason and retry re-enters pending", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		d, err := tracker.RegisterDeposit(ctx, wallet.ID,
			decimal.NewFromInt(100), "USDC", "0xsource", "0xhash1", "invoice 42")
		require.NoError(t, err)

		failed, err := tracker.FailDeposit(ctx, d.ID, "reorg dropped the block")
		require.NoError(t, err)
		assert.Equal(t, interfaces.DepositStatusFailed, failed.Status)
		assert.Equal(t, "reorg dropped the block", failed.FailReason)
		assert.Equal(t, "invoice 42", failed.Memo, "failing must not clobber the memo")

		retried, err := tracker.RetryDeposit(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DepositStatusPending, retried.Status)
		assert.Empty(t, retried.FailReason)
		assert.Equal(t, "invoice 42", retried.Memo)

		// The retried deposit can confirm normally.
		confirmed, err := tracker.ConfirmDeposit(ctx, d.ID, 1300, 10, decimal.Zero)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DepositStatusConfirmed, confirmed.Status)
	})

	t.Run("only failed deposits can be retried", func(t *testing.T) {
		tracker, wallet, _ := newTestTracker(t, 6)
		d := register(t, tracker, wallet.ID, "0xhash1")
		_, err := tracker.RetryDeposit(ctx, d.ID)
		assert.True(t, errors.IsKind(err, errors.KindState))
	})
}

func TestListPendingDeposits(t *testing.T) {
	ctx := context.Background()
	tracker, wallet, _ := newTestTracker(t, 6)

	a := register(t, tracker, wallet.ID, "0xhash-a")
	b := register(t, tracker, wallet.ID, "0xhash-b")
	_, err := tracker.ConfirmDeposit(ctx, a.ID, 1200, 8, decimal.Zero)
	require.NoError(t, err)

	pending, err := tracker.ListPendingDeposits(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}
