package cosigner

import "fmt"

var (
	ErrMissingPsbt          = fmt.Errorf("missing psbt")
	ErrMissingKeys          = fmt.Errorf("missing signing keys")
	ErrNotPrivateKey        = fmt.Errorf("signing keys must be extended private keys")
	ErrMissingWitnessUtxo   = fmt.Errorf("missing witness utxo")
	ErrUnsupportedInputType = fmt.Errorf(
		"unsupported input type, only P2WSH inputs can be signed",
	)
	ErrKeyDerivation      = fmt.Errorf("failed to derive signing key")
	ErrTxidMismatch       = fmt.Errorf("psbts have different unsigned transactions")
	ErrInputCountMismatch = fmt.Errorf("psbts have different number of inputs")
	ErrUndeclaredKey      = fmt.Errorf("signature for a key not declared in input")
)
