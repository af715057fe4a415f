package vault_test

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
	"github.com/vulpemventures/vault-cosigner/pkg/vault/vaulttest"
)

var update = flag.Bool("update", false, "update golden files")

const (
	goldenFile          = "golden_deposit.json"
	goldenUnvaultTxid   = "ec1cd5ecc033711bd1d58cc1e4a54bd1e7cc92f4dce8c5d284d2ae977d751719"
	goldenEmergencyTxid = "3b80d593e0246bb64367785abe52890cfd9bb744d8f287171668d1f4be1b5043"
)

func TestDeriveUnvaultTx(t *testing.T) {
	t.Parallel()

	fixture := vaulttest.NewFixture(t)
	deposit := fixture.Deposit(3)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, deposit)
		require.NoError(t, err)

		tx := ptx.UnsignedTx
		require.Equal(t, int32(vault.TxVersion), tx.Version)
		require.Len(t, tx.TxIn, 1)
		require.Equal(t, deposit.Outpoint, tx.TxIn[0].PreviousOutPoint)
		require.Equal(t, uint32(0xfffffffd), tx.TxIn[0].Sequence)
		require.Len(t, tx.TxOut, 2)
		require.Equal(t, int64(vault.CpfpValue), tx.TxOut[1].Value)

		fee := int64(deposit.Amount) - tx.TxOut[0].Value - tx.TxOut[1].Value
		require.Greater(t, fee, int64(0))
		require.Zero(t, fee%vault.UnvaultFeerate)

		depositScript, err := fixture.Descriptors.Deposit.Derive(deposit.DerivationIndex)
		require.NoError(t, err)
		unvaultScript, err := fixture.Descriptors.Unvault.Derive(deposit.DerivationIndex)
		require.NoError(t, err)
		cpfpScript, err := fixture.Descriptors.Cpfp.Derive(deposit.DerivationIndex)
		require.NoError(t, err)

		require.Equal(t, unvaultScript.ScriptPubKey(), tx.TxOut[0].PkScript)
		require.Equal(t, cpfpScript.ScriptPubKey(), tx.TxOut[1].PkScript)

		in := ptx.Inputs[0]
		require.NotNil(t, in.WitnessUtxo)
		require.Equal(t, int64(deposit.Amount), in.WitnessUtxo.Value)
		require.Equal(t, depositScript.ScriptPubKey(), in.WitnessUtxo.PkScript)
		require.Equal(t, depositScript.WitnessScript(), in.WitnessScript)
		require.Equal(t, txscript.SigHashAll, in.SighashType)
		require.Len(t, in.Bip32Derivation, 2)

		require.Equal(t, unvaultScript.WitnessScript(), ptx.Outputs[0].WitnessScript)
		require.Len(t, ptx.Outputs[0].Bip32Derivation, 3)
		require.Equal(t, cpfpScript.WitnessScript(), ptx.Outputs[1].WitnessScript)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		noCpfp := *fixture.Descriptors
		noCpfp.Cpfp = nil
		noUnvault := *fixture.Descriptors
		noUnvault.Unvault = nil

		tests := []struct {
			name        string
			descriptors *vault.Descriptors
			deposit     vault.Deposit
			expectedErr error
		}{
			{"nil_descriptors", nil, deposit, vault.ErrMissingDepositDescriptor},
			{"missing_cpfp", &noCpfp, deposit, vault.ErrMissingCpfpDescriptor},
			{"missing_unvault", &noUnvault, deposit, vault.ErrMissingUnvaultDescriptor},
			{
				"null_amount", fixture.Descriptors,
				vault.Deposit{Outpoint: deposit.Outpoint}, vault.ErrNullAmount,
			},
			{
				"dust", fixture.Descriptors,
				vault.Deposit{Outpoint: deposit.Outpoint, Amount: 35000},
				vault.ErrInsufficientValue,
			},
		}
		for _, tt := range tests {
			ptx, err := vault.DeriveUnvaultTx(tt.descriptors, tt.deposit)
			require.ErrorIs(t, err, tt.expectedErr, tt.name)
			require.Nil(t, ptx, tt.name)
		}
	})
}

func TestDeriveRevocationTxs(t *testing.T) {
	t.Parallel()

	fixture := vaulttest.NewFixture(t)
	deposit := fixture.Deposit(42)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		unvaultTx, err := vault.DeriveUnvaultTx(fixture.Descriptors, deposit)
		require.NoError(t, err)
		txs, err := vault.DeriveRevocationTxs(fixture.Descriptors, deposit)
		require.NoError(t, err)
		require.Len(t, txs.Txs(), vault.NumCancelTxs+2)

		unvaultOutpoint := wire.OutPoint{Hash: unvaultTx.UnsignedTx.TxHash(), Index: 0}
		unvaultValue := unvaultTx.UnsignedTx.TxOut[0].Value
		depositScript, err := fixture.Descriptors.Deposit.Derive(deposit.DerivationIndex)
		require.NoError(t, err)
		emergencyScript, err := txscript.PayToAddrScript(fixture.Descriptors.EmergencyAddress)
		require.NoError(t, err)

		prevValue := unvaultValue
		for _, cancelTx := range txs.CancelTxs {
			tx := cancelTx.UnsignedTx
			require.Equal(t, unvaultOutpoint, tx.TxIn[0].PreviousOutPoint)
			require.Len(t, tx.TxOut, 1)
			require.Equal(t, depositScript.ScriptPubKey(), tx.TxOut[0].PkScript)
			require.Less(t, tx.TxOut[0].Value, prevValue)
			require.Equal(t, unvaultValue, cancelTx.Inputs[0].WitnessUtxo.Value)
			require.Equal(t, depositScript.WitnessScript(), cancelTx.Outputs[0].WitnessScript)
			prevValue = tx.TxOut[0].Value
		}

		emergencyTx := txs.EmergencyTx.UnsignedTx
		require.Equal(t, deposit.Outpoint, emergencyTx.TxIn[0].PreviousOutPoint)
		require.Equal(t, emergencyScript, emergencyTx.TxOut[0].PkScript)
		require.Empty(t, txs.EmergencyTx.Outputs[0].WitnessScript)

		unvaultEmergencyTx := txs.UnvaultEmergencyTx.UnsignedTx
		require.Equal(t, unvaultOutpoint, unvaultEmergencyTx.TxIn[0].PreviousOutPoint)
		require.Equal(t, emergencyScript, unvaultEmergencyTx.TxOut[0].PkScript)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		first, err := vault.DeriveRevocationTxs(fixture.Descriptors, deposit)
		require.NoError(t, err)
		second, err := vault.DeriveRevocationTxs(fixture.Descriptors, deposit)
		require.NoError(t, err)

		firstSerialized, err := first.Serialize()
		require.NoError(t, err)
		secondSerialized, err := second.Serialize()
		require.NoError(t, err)
		require.Equal(t, firstSerialized, secondSerialized)

		other, err := vault.DeriveRevocationTxs(fixture.Descriptors, fixture.Deposit(43))
		require.NoError(t, err)
		require.NotEqual(t, first.Txids(), other.Txids())
	})

	t.Run("serialization", func(t *testing.T) {
		t.Parallel()

		txs, err := vault.DeriveRevocationTxs(fixture.Descriptors, deposit)
		require.NoError(t, err)
		serialized, err := txs.Serialize()
		require.NoError(t, err)
		require.Len(t, serialized.CancelTx, vault.NumCancelTxs)

		buf, err := json.Marshal(serialized)
		require.NoError(t, err)
		var decoded vault.SerializedRevocationTxs
		require.NoError(t, json.Unmarshal(buf, &decoded))

		parsed, err := decoded.Deserialize()
		require.NoError(t, err)
		require.Equal(t, txs.Txids(), parsed.Txids())

		decoded.CancelTx = decoded.CancelTx[1:]
		_, err = decoded.Deserialize()
		require.Error(t, err)
	})

	t.Run("feature_gates", func(t *testing.T) {
		t.Parallel()

		noEmergency := *fixture.Descriptors
		noEmergency.EmergencyAddress = nil
		require.False(t, noEmergency.CanSecure())
		require.True(t, noEmergency.CanDelegate())
		require.True(t, fixture.Descriptors.CanSecure())

		_, err := vault.DeriveRevocationTxs(&noEmergency, deposit)
		require.ErrorIs(t, err, vault.ErrMissingEmergencyAddress)
	})

	t.Run("dust", func(t *testing.T) {
		t.Parallel()

		// Enough for the unvault tx, not for the most expensive cancel tx.
		small := deposit
		small.Amount = btcutil.Amount(100000)
		_, err := vault.DeriveUnvaultTx(fixture.Descriptors, small)
		require.NoError(t, err)
		_, err = vault.DeriveRevocationTxs(fixture.Descriptors, small)
		require.ErrorIs(t, err, vault.ErrInsufficientValue)
	})
}

type goldenDeposit struct {
	UnvaultTx       string                        `json:"unvault_tx"`
	RevocationTxs   vault.SerializedRevocationTxs `json:"revocation_txs"`
	SignedUnvaultTx string                        `json:"signed_unvault_tx"`
}

func TestGoldenDeposit(t *testing.T) {
	fixture := vaulttest.NewFixture(t)
	deposit := fixture.GoldenDeposit(t)

	unvaultTx, err := vault.DeriveUnvaultTx(fixture.Descriptors, deposit)
	require.NoError(t, err)
	unvaultB64, err := vault.EncodePsbt(unvaultTx)
	require.NoError(t, err)

	revocationTxs, err := vault.DeriveRevocationTxs(fixture.Descriptors, deposit)
	require.NoError(t, err)
	serialized, err := revocationTxs.Serialize()
	require.NoError(t, err)

	require.Equal(t, goldenUnvaultTxid, unvaultTx.UnsignedTx.TxHash().String())
	require.Equal(t, int64(119965368), unvaultTx.UnsignedTx.TxOut[0].Value)
	cancelValues := make([]int64, 0, vault.NumCancelTxs)
	for _, tx := range revocationTxs.CancelTxs {
		cancelValues = append(cancelValues, tx.UnsignedTx.TxOut[0].Value)
	}
	require.Equal(t, []int64{
		119961428, 119945668, 119925968, 119866868, 119768368,
	}, cancelValues)
	require.Equal(t, goldenEmergencyTxid, revocationTxs.EmergencyTx.UnsignedTx.TxHash().String())
	require.Equal(t, int64(119988750), revocationTxs.EmergencyTx.UnsignedTx.TxOut[0].Value)
	require.Equal(t, int64(119950593), revocationTxs.UnvaultEmergencyTx.UnsignedTx.TxOut[0].Value)

	res, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
		Packet: unvaultTx,
		Keys:   fixture.Stakeholders,
	})
	require.NoError(t, err)
	require.Equal(t, []int{0}, res.SignedInputs)
	signedB64, err := vault.EncodePsbt(unvaultTx)
	require.NoError(t, err)

	got := goldenDeposit{unvaultB64, *serialized, signedB64}
	path := filepath.Join("testdata", goldenFile)

	if *update {
		buf, err := json.MarshalIndent(got, "", "  ")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, append(buf, '\n'), 0644))
		return
	}

	buf, err := os.ReadFile(path)
	require.NoError(t, err, "run with -update to create %s", path)

	var expected goldenDeposit
	require.NoError(t, json.Unmarshal(buf, &expected))
	require.Equal(t, expected, got)
}
