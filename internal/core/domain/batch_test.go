package domain_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

func newTestVaults(t *testing.T, n int) []*domain.Vault {
	vaults := make([]*domain.Vault, 0, n)
	for i := 0; i < n; i++ {
		v, err := domain.NewVault(
			domain.Outpoint{TxID: fmt.Sprintf("%064x", i+1), VOut: 0},
			100000, uint32(i),
		)
		require.NoError(t, err)
		vaults = append(vaults, v)
	}
	return vaults
}

func TestBatch(t *testing.T) {
	t.Parallel()

	t.Run("secure", func(t *testing.T) {
		t.Parallel()

		vaults := newTestVaults(t, 4)
		vaults[1].Secure(vault.SerializedRevocationTxs{})

		batch := domain.NewBatch(domain.BatchSecure, append(vaults, vaults[0]))
		require.Len(t, batch.Items(), 4)
		require.Len(t, batch.Pending(), 3)
		require.Equal(t, []domain.Outpoint{vaults[1].Outpoint}, batch.Completed())

		ok, err := batch.MarkCompleted(vaults[0].Outpoint)
		require.NoError(t, err)
		require.True(t, ok)

		// Marking twice is a no-op.
		ok, err = batch.MarkCompleted(vaults[0].Outpoint)
		require.NoError(t, err)
		require.False(t, ok)

		pending := batch.Pending()
		require.Equal(t, []*domain.Vault{vaults[2], vaults[3]}, pending)
		require.False(t, batch.IsDone())

		for _, v := range pending {
			_, err := batch.MarkCompleted(v.Outpoint)
			require.NoError(t, err)
		}
		require.True(t, batch.IsDone())
		require.Len(t, batch.Completed(), 4)
	})

	t.Run("delegate", func(t *testing.T) {
		t.Parallel()

		vaults := newTestVaults(t, 2)
		for _, v := range vaults {
			v.Secure(vault.SerializedRevocationTxs{})
		}
		require.NoError(t, vaults[0].Activate("unvault"))

		batch := domain.NewBatch(domain.BatchDelegate, vaults)
		require.Equal(t, []*domain.Vault{vaults[1]}, batch.Pending())
		require.Equal(t, domain.VaultStatusSecured, domain.BatchDelegate.PendingStatus())
		require.Equal(t, domain.VaultStatusFunded, domain.BatchSecure.PendingStatus())
	})

	t.Run("unknown_vault", func(t *testing.T) {
		t.Parallel()

		vaults := newTestVaults(t, 2)
		batch := domain.NewBatch(domain.BatchSecure, vaults[:1])
		_, err := batch.MarkCompleted(vaults[1].Outpoint)
		require.Error(t, err)
	})
}
