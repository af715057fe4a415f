package application

import "fmt"

var (
	ErrFeatureUnavailable = fmt.Errorf(
		"feature unavailable, missing vault descriptors or emergency address",
	)
	ErrUnexpectedTx = fmt.Errorf(
		"signer returned a transaction different from the one expected",
	)
	ErrMissingSignatures = fmt.Errorf("signer returned an unsigned transaction")
	ErrBatchSizeMismatch = fmt.Errorf(
		"signer returned a number of transactions different from the batch size",
	)
	ErrMissingTarget = fmt.Errorf("missing transaction(s) to sign")
)
