package bip32path

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	ErrMissingDerivationPath          = fmt.Errorf("missing derivation path")
	ErrRequiredAbsoluteDerivationPath = fmt.Errorf("path must be an absolute derivation starting with 'm/'")
	ErrMalformedDerivationPath        = fmt.Errorf("path must not start or end with a '/'")
	ErrHardenedStep                   = fmt.Errorf("path must contain only unhardened steps")
	ErrStepOutOfRange                 = fmt.Errorf(
		"path step must be in range [0, %d]", hdkeychain.HardenedKeyStart-1,
	)
)
