package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/covault/covault/internal/custody/cache"
	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/locks"
	"github.com/covault/covault/internal/custody/repository"
	"github.com/covault/covault/pkg/errors"
)

func newTestRegistry(t *testing.T) (*WalletRegistry, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	return NewWalletRegistry(repo, cache.NewMemoryCache(), locks.NewManager(), nil, zap.NewNop()), repo
}

func specs(n int) []ParticipantSpec {
	out := make([]ParticipantSpec, n)
	for i := range out {
		role := interfaces.RoleParticipant
		if i == 0 {
			role = interfaces.RoleAdmin
		}
		out[i] = ParticipantSpec{UserID: uuid.New(), PublicKey: "pk-" + string(rune('a'+i)), Role: role}
	}
	return out
}

func TestCreateWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an active wallet", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		w, err := reg.CreateWallet(ctx, specs(3), 2, "0xcontract")
		require.NoError(t, err)
		assert.Equal(t, interfaces.WalletStatusActive, w.Status)
		assert.Equal(t, 2, w.Threshold)
		assert.Len(t, w.Participants, 3)
	})

	t.Run("threshold must fit the participant set", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		_, err := reg.CreateWallet(ctx, specs(3), 0, "0xc")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
		_, err = reg.CreateWallet(ctx, specs(3), 4, "0xc")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("duplicate participants are rejected", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		ps := specs(3)
		ps[2].UserID = ps[0].UserID
		_, err := reg.CreateWallet(ctx, ps, 2, "0xc")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})

	t.Run("every participant needs a public key", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		ps := specs(3)
		ps[1].PublicKey = ""
		_, err := reg.CreateWallet(ctx, ps, 2, "0xc")
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestGetWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("serves repository reads through the cache", func(t *testing.T) {
		reg, repo := newTestRegistry(t)
		w, err := reg.CreateWallet(ctx, specs(3), 2, "0xc")
		require.NoError(t, err)

		first, err := reg.GetWallet(ctx, w.ID)
		require.NoError(t, err)

		// With the snapshot cached, a direct repository change is not yet
		// visible to readers.
		stored, err := repo.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		stored.ContractRef = "0xchanged"
		require.NoError(t, repo.UpdateWallet(ctx, stored))

		second, err := reg.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ContractRef, second.ContractRef)
	})

	t.Run("registry mutations invalidate the snapshot", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		ps := specs(3)
		w, err := reg.CreateWallet(ctx, ps, 2, "0xc")
		require.NoError(t, err)
		_, err = reg.GetWallet(ctx, w.ID) // prime the cache
		require.NoError(t, err)

		_, err = reg.UpdateThreshold(ctx, w.ID, ps[0].UserID, 3)
		require.NoError(t, err)

		got, err := reg.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Threshold)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		_, err := reg.GetWallet(ctx, uuid.New())
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})
}

func TestMembership(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*WalletRegistry, *interfaces.MultisigWallet, uuid.UUID) {
		reg, _ := newTestRegistry(t)
		ps := specs(3)
		w, err := reg.CreateWallet(ctx, ps, 2, "0xc")
		require.NoError(t, err)
		return reg, w, ps[0].UserID // admin
	}

	t.Run("admin adds a participant", func(t *testing.T) {
		reg, w, admin := setup(t)
		updated, err := reg.AddParticipant(ctx, w.ID, admin, ParticipantSpec{
			UserID: uuid.New(), PublicKey: "pk-new", Role: interfaces.RoleParticipant,
		})
		require.NoError(t, err)
		assert.Len(t, updated.Participants, 4)
		assert.Greater(t, updated.Version, w.Version)
	})

	t.Run("non-admin cannot mutate", func(t *testing.T) {
		reg, w, _ := setup(t)
		member := w.Participants[1].UserID
		_, err := reg.AddParticipant(ctx, w.ID, member, ParticipantSpec{UserID: uuid.New(), PublicKey: "pk"})
		assert.True(t, errors.IsKind(err, errors.KindPermission))
		_, err = reg.UpdateThreshold(ctx, w.ID, member, 1)
		assert.True(t, errors.IsKind(err, errors.KindPermission))
	})

	t.Run("existing member cannot be added twice", func(t *testing.T) {
		reg, w, admin := setup(t)
		_, err := reg.AddParticipant(ctx, w.ID, admin, ParticipantSpec{
			UserID: w.Participants[1].UserID, PublicKey: "pk-dup",
		})
		assert.True(t, errors.IsKind(err, errors.KindConflict))
	})

	t.Run("admin removes a participant", func(t *testing.T) {
		reg, w, admin := setup(t)
		updated, err := reg.RemoveParticipant(ctx, w.ID, admin, w.Participants[2].UserID)
		require.NoError(t, err)
		assert.Len(t, updated.Participants, 2)
	})

	t.Run("removal cannot break the threshold", func(t *testing.T) {
		reg, w, admin := setup(t)
		// 3 participants, threshold 2: dropping to 2 is fine, dropping to 1
		// would put the threshold out of reach.
		_, err := reg.RemoveParticipant(ctx, w.ID, admin, w.Participants[2].UserID)
		require.NoError(t, err)
		_, err = reg.RemoveParticipant(ctx, w.ID, admin, w.Participants[1].UserID)
		assert.True(t, errors.IsKind(err, errors.KindState))
	})

	t.Run("removing an unknown participant", func(t *testing.T) {
		reg, w, admin := setup(t)
		_, err := reg.RemoveParticipant(ctx, w.ID, admin, uuid.New())
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
	})

	t.Run("threshold can be raised to the participant count", func(t *testing.T) {
		reg, w, admin := setup(t)
		updated, err := reg.UpdateThreshold(ctx, w.ID, admin, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, updated.Threshold)

		_, err = reg.UpdateThreshold(ctx, w.ID, admin, 4)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	})
}

func TestSuspendActivate(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	ps := specs(2)
	w, err := reg.CreateWallet(ctx, ps, 2, "0xc")
	require.NoError(t, err)
	admin := ps[0].UserID

	suspended, err := reg.SuspendWallet(ctx, w.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, interfaces.WalletStatusSuspended, suspended.Status)

	// A suspended wallet still accepts admin lifecycle calls.
	activated, err := reg.ActivateWallet(ctx, w.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, interfaces.WalletStatusActive, activated.Status)
}
