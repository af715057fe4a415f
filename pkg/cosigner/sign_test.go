package cosigner_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
	"github.com/vulpemventures/vault-cosigner/pkg/vault/vaulttest"
)

func TestSignPsbt(t *testing.T) {
	t.Parallel()

	fixture := vaulttest.NewFixture(t)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, fixture.Deposit(1))
		require.NoError(t, err)

		res, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
			Packet: ptx,
			Keys:   fixture.Stakeholders,
		})
		require.NoError(t, err)
		require.Equal(t, []int{0}, res.SignedInputs)
		require.Len(t, ptx.Inputs[0].PartialSigs, 2)
		verifyPartialSigs(t, ptx)

		// The signed tx is valid for the script engine.
		tx := finalize(t, ptx)
		executeScript(t, ptx, tx)
	})

	t.Run("resign_replaces_signatures", func(t *testing.T) {
		t.Parallel()

		ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, fixture.Deposit(2))
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
				Packet: ptx,
				Keys:   fixture.Stakeholders[:1],
			})
			require.NoError(t, err)
		}
		require.Len(t, ptx.Inputs[0].PartialSigs, 1)
	})

	t.Run("no_matching_fingerprint", func(t *testing.T) {
		t.Parallel()

		ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, fixture.Deposit(3))
		require.NoError(t, err)

		res, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
			Packet: ptx,
			Keys:   fixture.Managers,
		})
		require.NoError(t, err)
		require.Empty(t, res.SignedInputs)
		require.Empty(t, ptx.Inputs[0].PartialSigs)
	})

	t.Run("missing_witness_script", func(t *testing.T) {
		t.Parallel()

		ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, fixture.Deposit(4))
		require.NoError(t, err)
		ptx.Inputs[0].WitnessScript = nil

		res, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
			Packet: ptx,
			Keys:   fixture.Stakeholders,
		})
		require.NoError(t, err)
		require.Empty(t, res.SignedInputs)
		require.Empty(t, ptx.Inputs[0].PartialSigs)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		xpub, err := fixture.Stakeholders[0].Neuter()
		require.NoError(t, err)

		tests := []struct {
			name        string
			tamper      func(ptx *psbt.Packet)
			keys        []*hdkeychain.ExtendedKey
			expectedErr error
		}{
			{"missing_keys", nil, nil, cosigner.ErrMissingKeys},
			{"public_key", nil, []*hdkeychain.ExtendedKey{xpub}, cosigner.ErrNotPrivateKey},
			{
				"missing_witness_utxo",
				func(ptx *psbt.Packet) { ptx.Inputs[0].WitnessUtxo = nil },
				fixture.Stakeholders, cosigner.ErrMissingWitnessUtxo,
			},
			{
				"witness_script_mismatch",
				func(ptx *psbt.Packet) { ptx.Inputs[0].WitnessScript = []byte{txscript.OP_TRUE} },
				fixture.Stakeholders, cosigner.ErrUnsupportedInputType,
			},
			{
				"not_p2wsh",
				func(ptx *psbt.Packet) {
					ptx.Inputs[0].WitnessUtxo.PkScript = ptx.Inputs[0].WitnessUtxo.PkScript[:22]
				},
				fixture.Stakeholders, cosigner.ErrUnsupportedInputType,
			},
		}
		for _, tt := range tests {
			ptx, err := vault.DeriveUnvaultTx(fixture.Descriptors, fixture.Deposit(5))
			require.NoError(t, err)
			if tt.tamper != nil {
				tt.tamper(ptx)
			}

			res, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{Packet: ptx, Keys: tt.keys})
			require.ErrorIs(t, err, tt.expectedErr, tt.name)
			require.Nil(t, res, tt.name)
		}

		_, err = cosigner.SignPsbt(cosigner.SignPsbtArgs{Keys: fixture.Stakeholders})
		require.ErrorIs(t, err, cosigner.ErrMissingPsbt)
	})
}

// Signatures must never be attached under a declared key that doesn't match
// the one derived along the declared path.
func TestSignPsbtSoundness(t *testing.T) {
	t.Parallel()

	fixture := vaulttest.NewFixture(t)
	stranger, _ := btcec.NewPrivateKey()

	tamperings := []struct {
		name   string
		tamper func(der *psbt.Bip32Derivation)
	}{
		{"foreign_pubkey", func(der *psbt.Bip32Derivation) {
			der.PubKey = stranger.PubKey().SerializeCompressed()
		}},
		{"wrong_path", func(der *psbt.Bip32Derivation) {
			der.Bip32Path = []uint32{der.Bip32Path[0] + 1}
		}},
		{"hardened_path", func(der *psbt.Bip32Derivation) {
			der.Bip32Path = []uint32{hdkeychain.HardenedKeyStart + der.Bip32Path[0]}
		}},
	}

	for index := uint32(0); index < 5; index++ {
		for _, tt := range tamperings {
			txs, err := vault.DeriveRevocationTxs(fixture.Descriptors, fixture.Deposit(index))
			require.NoError(t, err)

			for _, ptx := range txs.Txs() {
				tampered := ptx.Inputs[0].Bip32Derivation[0]
				tt.tamper(tampered)

				_, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
					Packet: ptx,
					Keys:   fixture.AllKeys(),
				})
				require.NoError(t, err, tt.name)

				for _, sig := range ptx.Inputs[0].PartialSigs {
					require.False(t, bytes.Equal(sig.PubKey, tampered.PubKey), tt.name)
				}
				// Untampered keys are still signed for.
				require.NotEmpty(t, ptx.Inputs[0].PartialSigs, tt.name)
				verifyPartialSigs(t, ptx)
			}
		}
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fixture := vaulttest.NewFixture(t)
	key := fixture.Stakeholders[0]
	xpub, err := key.Neuter()
	require.NoError(t, err)

	require.Equal(t, cosigner.Fingerprint(key), cosigner.Fingerprint(xpub))
	require.Equal(
		t, cosigner.Fingerprint(key), fixture.Descriptors.Deposit.Keys()[0].Fingerprint(),
	)
	require.NotEqual(
		t, cosigner.Fingerprint(key), cosigner.Fingerprint(fixture.Stakeholders[1]),
	)
}

func verifyPartialSigs(t *testing.T, ptx *psbt.Packet) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range ptx.Inputs {
		fetcher.AddPrevOut(ptx.UnsignedTx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	sighashes := txscript.NewTxSigHashes(ptx.UnsignedTx, fetcher)

	for i, in := range ptx.Inputs {
		for _, partialSig := range in.PartialSigs {
			sighashType := txscript.SigHashType(partialSig.Signature[len(partialSig.Signature)-1])
			require.Equal(t, txscript.SigHashAll, sighashType)

			hash, err := txscript.CalcWitnessSigHash(
				in.WitnessScript, sighashes, sighashType, ptx.UnsignedTx, i,
				in.WitnessUtxo.Value,
			)
			require.NoError(t, err)
			sig, err := ecdsa.ParseDERSignature(
				partialSig.Signature[:len(partialSig.Signature)-1],
			)
			require.NoError(t, err)
			pubkey, err := btcec.ParsePubKey(partialSig.PubKey)
			require.NoError(t, err)
			require.True(t, sig.Verify(hash, pubkey))
		}
	}
}
