package application_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/inmemory"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
	"github.com/vulpemventures/vault-cosigner/pkg/vault/vaulttest"
)

var ctx = context.Background()

// stakeholder signs psbts with the keys of the fixture stakeholders, like a
// device would.
type stakeholder struct {
	t       *testing.T
	fixture *vaulttest.Fixture
}

func (s stakeholder) signTx(ptx *psbt.Packet) (*psbt.Packet, error) {
	signed, err := clonePsbt(ptx)
	if err != nil {
		return nil, err
	}
	if _, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
		Packet: signed,
		Keys:   s.fixture.Stakeholders,
	}); err != nil {
		return nil, err
	}
	return signed, nil
}

func (s stakeholder) signRevocationTxs(
	txs *vault.RevocationTransactions,
) (*vault.RevocationTransactions, error) {
	signed := make([]*psbt.Packet, 0, vault.NumCancelTxs+2)
	for _, tx := range txs.Txs() {
		signedTx, err := s.signTx(tx)
		if err != nil {
			return nil, err
		}
		signed = append(signed, signedTx)
	}
	return vault.NewRevocationTransactions(signed)
}

func (s stakeholder) secureBatch(
	deposits []vault.Deposit,
) (*ports.SecureBatchResult, error) {
	res := &ports.SecureBatchResult{Status: ports.BatchSigned}
	for _, deposit := range deposits {
		txs, err := vault.DeriveRevocationTxs(s.fixture.Descriptors, deposit)
		if err != nil {
			return nil, err
		}
		signed, err := s.signRevocationTxs(txs)
		if err != nil {
			return nil, err
		}
		res.Txs = append(res.Txs, signed)
	}
	return res, nil
}

func (s stakeholder) delegateBatch(
	deposits []vault.Deposit,
) (*ports.DelegateBatchResult, error) {
	res := &ports.DelegateBatchResult{Status: ports.BatchSigned}
	for _, deposit := range deposits {
		tx, err := vault.DeriveUnvaultTx(s.fixture.Descriptors, deposit)
		if err != nil {
			return nil, err
		}
		signed, err := s.signTx(tx)
		if err != nil {
			return nil, err
		}
		res.Txs = append(res.Txs, signed)
	}
	return res, nil
}

func clonePsbt(ptx *psbt.Packet) (*psbt.Packet, error) {
	str, err := vault.EncodePsbt(ptx)
	if err != nil {
		return nil, err
	}
	return vault.DecodePsbt(str)
}

func newTestRepoManager(
	t *testing.T, f *vaulttest.Fixture, numOfVaults int,
) (ports.RepoManager, []domain.Outpoint) {
	repoManager := inmemory.NewRepoManager()
	t.Cleanup(repoManager.Close)

	vaults := make([]*domain.Vault, 0, numOfVaults)
	outpoints := make([]domain.Outpoint, 0, numOfVaults)
	for i := 0; i < numOfVaults; i++ {
		deposit := f.Deposit(uint32(i))
		v, err := domain.NewVault(
			domain.NewOutpoint(deposit.Outpoint), uint64(deposit.Amount),
			deposit.DerivationIndex,
		)
		require.NoError(t, err)
		vaults = append(vaults, v)
		outpoints = append(outpoints, v.Outpoint)
	}

	count, err := repoManager.VaultRepository().AddVaults(ctx, vaults)
	require.NoError(t, err)
	require.Equal(t, numOfVaults, count)

	return repoManager, outpoints
}

func listVaults(
	t *testing.T, repoManager ports.RepoManager, statuses ...domain.VaultStatus,
) []domain.Outpoint {
	vaults, err := repoManager.VaultRepository().ListVaults(ctx, statuses...)
	require.NoError(t, err)
	outpoints := make([]domain.Outpoint, 0, len(vaults))
	for _, v := range vaults {
		outpoints = append(outpoints, v.Outpoint)
	}
	return outpoints
}
