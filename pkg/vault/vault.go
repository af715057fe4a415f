// Package vault derives the pre-signed transaction chain of a vault from its
// public descriptors: the unvault transaction and the revocation set made of
// the cancel transactions, the emergency one and the unvault-emergency one.
//
// Derivation is pure and deterministic.
package vault

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/vault-cosigner/pkg/descriptor"
)

const (
	TxVersion = 2
	// Sequence used by every input, signals opt-in RBF.
	InputSequence = wire.MaxTxInSequenceNum - 2

	// UnvaultFeerate is expressed in sat/WU.
	UnvaultFeerate = 6
	// EmergencyFeerate is expressed in sat/vB.
	EmergencyFeerate = 75
	// CpfpValue is the value of the fee bumping output of the unvault tx.
	CpfpValue = btcutil.Amount(30000)
	// DustLimit is the min value accepted for any derived output.
	DustLimit = btcutil.Amount(5000)
)

// CancelFeerates are the feerates, in sat/vB, of the cancel transactions of
// a revocation set, in ascending order.
var CancelFeerates = [NumCancelTxs]int64{20, 100, 200, 500, 1000}

var (
	ErrMissingDepositDescriptor = fmt.Errorf("missing deposit descriptor")
	ErrMissingUnvaultDescriptor = fmt.Errorf("missing unvault descriptor")
	ErrMissingCpfpDescriptor    = fmt.Errorf("missing cpfp descriptor")
	ErrMissingEmergencyAddress  = fmt.Errorf("missing emergency address")
	ErrInsufficientValue        = fmt.Errorf(
		"deposit amount is too low to cover fees without creating dust outputs",
	)
	ErrNullAmount = fmt.Errorf("deposit amount must not be zero")
)

// Descriptors holds the public descriptors of the vault. Any of them can be
// nil, in which case the verbs depending on it are not available.
type Descriptors struct {
	Deposit          *descriptor.Descriptor
	Unvault          *descriptor.Descriptor
	Cpfp             *descriptor.Descriptor
	EmergencyAddress btcutil.Address
}

// CanDelegate returns whether unvault transactions can be derived.
func (d *Descriptors) CanDelegate() bool {
	return d.validateForUnvault() == nil
}

// CanSecure returns whether revocation transactions can be derived.
func (d *Descriptors) CanSecure() bool {
	return d.validateForRevocation() == nil
}

func (d *Descriptors) validateForUnvault() error {
	if d == nil || d.Deposit == nil {
		return ErrMissingDepositDescriptor
	}
	if d.Unvault == nil {
		return ErrMissingUnvaultDescriptor
	}
	if d.Cpfp == nil {
		return ErrMissingCpfpDescriptor
	}
	return nil
}

func (d *Descriptors) validateForRevocation() error {
	if err := d.validateForUnvault(); err != nil {
		return err
	}
	if d.EmergencyAddress == nil {
		return ErrMissingEmergencyAddress
	}
	return nil
}

// Deposit identifies a vault by the outpoint funding it, its amount and the
// index its descriptors are derived at.
type Deposit struct {
	Outpoint        wire.OutPoint
	Amount          btcutil.Amount
	DerivationIndex uint32
}

func (d Deposit) validate() error {
	if d.Outpoint.Hash == (chainhash.Hash{}) {
		return fmt.Errorf("missing deposit txid")
	}
	if d.Amount <= 0 {
		return ErrNullAmount
	}
	return nil
}
