package cosigner

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// MergePartialSigs copies the partial signatures of src into dst, input by
// input. Both PSBTs must share the same unsigned transaction and every
// signature must be for a key declared in the related input of dst.
// Nothing is merged if any check fails.
func MergePartialSigs(dst, src *psbt.Packet) error {
	if dst == nil || src == nil || dst.UnsignedTx == nil || src.UnsignedTx == nil {
		return ErrMissingPsbt
	}
	if dst.UnsignedTx.TxHash() != src.UnsignedTx.TxHash() {
		return ErrTxidMismatch
	}
	if len(dst.Inputs) != len(src.Inputs) {
		return ErrInputCountMismatch
	}

	for i, in := range src.Inputs {
		for _, sig := range in.PartialSigs {
			if !isDeclared(&dst.Inputs[i], sig.PubKey) {
				return fmt.Errorf("input %d: %w", i, ErrUndeclaredKey)
			}
		}
	}

	for i, in := range src.Inputs {
		for _, sig := range in.PartialSigs {
			addPartialSig(&dst.Inputs[i], sig.PubKey, sig.Signature)
		}
	}
	return nil
}

func isDeclared(in *psbt.PInput, pubkey []byte) bool {
	for _, derivation := range in.Bip32Derivation {
		if bytes.Equal(derivation.PubKey, pubkey) {
			return true
		}
	}
	return false
}
