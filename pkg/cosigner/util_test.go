package cosigner_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

func finalize(t *testing.T, ptx *psbt.Packet) *wire.MsgTx {
	// Finalization consumes the psbt, work on a copy.
	str, err := vault.EncodePsbt(ptx)
	require.NoError(t, err)
	cpy, err := vault.DecodePsbt(str)
	require.NoError(t, err)

	for i := range cpy.Inputs {
		_, err := psbt.MaybeFinalize(cpy, i)
		require.NoError(t, err)
	}
	tx, err := psbt.Extract(cpy)
	require.NoError(t, err)
	return tx
}

func executeScript(t *testing.T, ptx *psbt.Packet, tx *wire.MsgTx) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range ptx.Inputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	sighashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range ptx.Inputs {
		engine, err := txscript.NewEngine(
			in.WitnessUtxo.PkScript, tx, i, txscript.StandardVerifyFlags, nil,
			sighashes, in.WitnessUtxo.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())
	}
}
