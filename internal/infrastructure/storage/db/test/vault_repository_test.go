package db_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	dbbadger "github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/inmemory"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

var (
	ctx = context.Background()
)

func TestVaultRepository(t *testing.T) {
	repositories, err := newVaultRepositories(
		func(repoType string) ports.VaultEventHandler {
			return func(event domain.VaultEvent) {
				t.Logf("received event from %s repo: %+v\n", repoType, event)
			}
		},
	)
	require.NoError(t, err)

	for name, repo := range repositories {
		repo := repo
		t.Run(name, func(t *testing.T) {
			testVaultRepository(t, repo)
		})
	}
}

func testVaultRepository(t *testing.T, repo domain.VaultRepository) {
	vaults := newTestVaults(t, 5)

	testAddAndGetVaults(t, repo, vaults)

	testSetRevocationTxs(t, repo, vaults)

	testSetUnvaultTx(t, repo, vaults)
}

func testAddAndGetVaults(
	t *testing.T, repo domain.VaultRepository, vaults []*domain.Vault,
) {
	t.Run("add_vaults and get_vaults", func(t *testing.T) {
		// Insert in reverse order to check that listing is sorted by index.
		reversed := make([]*domain.Vault, 0, len(vaults))
		for i := len(vaults) - 1; i >= 0; i-- {
			reversed = append(reversed, vaults[i])
		}
		count, err := repo.AddVaults(ctx, reversed)
		require.NoError(t, err)
		require.Equal(t, len(vaults), count)

		count, err = repo.AddVaults(ctx, vaults)
		require.NoError(t, err)
		require.Zero(t, count)

		list, err := repo.ListVaults(ctx)
		require.NoError(t, err)
		require.Len(t, list, len(vaults))
		for i, v := range list {
			require.Equal(t, vaults[i].Outpoint, v.Outpoint)
			require.Equal(t, domain.VaultStatusFunded, v.Status)
		}

		v, err := repo.GetVault(ctx, vaults[2].Outpoint)
		require.NoError(t, err)
		require.Equal(t, *vaults[2], *v)

		_, err = repo.GetVault(ctx, domain.Outpoint{TxID: fmt.Sprintf("%064x", 999)})
		require.ErrorIs(t, err, domain.ErrVaultNotFound)

		// Derivation indexes are never reused across vaults.
		dup, err := domain.NewVault(
			domain.Outpoint{TxID: fmt.Sprintf("%064x", 1000)}, 1000, vaults[0].DerivationIndex,
		)
		require.NoError(t, err)
		_, err = repo.AddVaults(ctx, []*domain.Vault{dup})
		require.Error(t, err)

		// A conflict anywhere in the batch stores none of its vaults.
		fresh, err := domain.NewVault(
			domain.Outpoint{TxID: fmt.Sprintf("%064x", 1001)}, 1000, 1001,
		)
		require.NoError(t, err)
		_, err = repo.AddVaults(ctx, []*domain.Vault{fresh, dup})
		require.Error(t, err)
		_, err = repo.GetVault(ctx, fresh.Outpoint)
		require.ErrorIs(t, err, domain.ErrVaultNotFound)

		// Same for two new vaults sharing an index within the batch.
		twin, err := domain.NewVault(
			domain.Outpoint{TxID: fmt.Sprintf("%064x", 1002)}, 1000, 1001,
		)
		require.NoError(t, err)
		_, err = repo.AddVaults(ctx, []*domain.Vault{fresh, twin})
		require.Error(t, err)
		_, err = repo.GetVault(ctx, fresh.Outpoint)
		require.ErrorIs(t, err, domain.ErrVaultNotFound)

		list, err = repo.ListVaults(ctx)
		require.NoError(t, err)
		require.Len(t, list, len(vaults))
	})
}

func testSetRevocationTxs(
	t *testing.T, repo domain.VaultRepository, vaults []*domain.Vault,
) {
	t.Run("set_revocation_txs", func(t *testing.T) {
		txs := vault.SerializedRevocationTxs{
			CancelTx:           []string{"c0", "c1", "c2", "c3", "c4"},
			EmergencyTx:        "emer",
			EmergencyUnvaultTx: "unemer",
		}

		stored, err := repo.GetRevocationTxs(ctx, vaults[0].Outpoint)
		require.NoError(t, err)
		require.Nil(t, stored)

		for _, v := range vaults[:3] {
			err := repo.SetRevocationTxs(ctx, v.Outpoint, txs)
			require.NoError(t, err)
		}

		stored, err = repo.GetRevocationTxs(ctx, vaults[0].Outpoint)
		require.NoError(t, err)
		require.Equal(t, txs, *stored)

		secured, err := repo.ListVaults(ctx, domain.VaultStatusSecured)
		require.NoError(t, err)
		require.Len(t, secured, 3)

		funded, err := repo.ListVaults(ctx, domain.VaultStatusFunded)
		require.NoError(t, err)
		require.Len(t, funded, 2)

		err = repo.SetRevocationTxs(
			ctx, domain.Outpoint{TxID: fmt.Sprintf("%064x", 999)}, txs,
		)
		require.ErrorIs(t, err, domain.ErrVaultNotFound)
	})
}

func testSetUnvaultTx(
	t *testing.T, repo domain.VaultRepository, vaults []*domain.Vault,
) {
	t.Run("set_unvault_tx", func(t *testing.T) {
		err := repo.SetUnvaultTx(ctx, vaults[4].Outpoint, "unvault")
		require.ErrorIs(t, err, domain.ErrVaultNotSecured)

		err = repo.SetUnvaultTx(ctx, vaults[0].Outpoint, "unvault")
		require.NoError(t, err)

		tx, err := repo.GetUnvaultTx(ctx, vaults[0].Outpoint)
		require.NoError(t, err)
		require.Equal(t, "unvault", tx)

		active, err := repo.ListVaults(ctx, domain.VaultStatusActive)
		require.NoError(t, err)
		require.Len(t, active, 1)

		list, err := repo.ListVaults(
			ctx, domain.VaultStatusSecured, domain.VaultStatusActive,
		)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, vaults[0].Outpoint, list[0].Outpoint)
	})
}

func newTestVaults(t *testing.T, n int) []*domain.Vault {
	vaults := make([]*domain.Vault, 0, n)
	for i := 0; i < n; i++ {
		v, err := domain.NewVault(
			domain.Outpoint{TxID: fmt.Sprintf("%064x", i+1), VOut: uint32(i % 2)},
			uint64(100000*(i+1)), uint32(i),
		)
		require.NoError(t, err)
		vaults = append(vaults, v)
	}
	return vaults
}

func newVaultRepositories(
	handlerFactory func(repoType string) ports.VaultEventHandler,
) (map[string]domain.VaultRepository, error) {
	inmemoryRepoManager := inmemory.NewRepoManager()
	badgerRepoManager, err := dbbadger.NewRepoManager("", nil)
	if err != nil {
		return nil, err
	}
	handlers := []ports.VaultEventHandler{
		handlerFactory("badger"), handlerFactory("inmemory"),
	}

	repoManagers := []ports.RepoManager{badgerRepoManager, inmemoryRepoManager}

	for i, handler := range handlers {
		repoManager := repoManagers[i]
		repoManager.RegisterHandlerForVaultEvent(domain.VaultAdded, handler)
		repoManager.RegisterHandlerForVaultEvent(domain.VaultSecured, handler)
		repoManager.RegisterHandlerForVaultEvent(domain.VaultActivated, handler)
	}
	return map[string]domain.VaultRepository{
		"inmemory": inmemoryRepoManager.VaultRepository(),
		"badger":   badgerRepoManager.VaultRepository(),
	}, nil
}
