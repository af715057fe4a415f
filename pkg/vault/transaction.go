package vault

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/vault-cosigner/pkg/descriptor"
)

// DeriveUnvaultTx derives the unsigned unvault transaction of the given
// deposit. It spends the deposit to the unvault descriptor and adds the cpfp
// output used to bump its fees.
func DeriveUnvaultTx(
	descriptors *Descriptors, deposit Deposit,
) (*psbt.Packet, error) {
	if err := descriptors.validateForUnvault(); err != nil {
		return nil, err
	}
	if err := deposit.validate(); err != nil {
		return nil, err
	}

	derived, err := descriptors.derive(deposit.DerivationIndex)
	if err != nil {
		return nil, err
	}
	return deriveUnvaultTx(derived, deposit)
}

// DeriveRevocationTxs derives the unsigned revocation transactions of the
// given deposit.
func DeriveRevocationTxs(
	descriptors *Descriptors, deposit Deposit,
) (*RevocationTransactions, error) {
	if err := descriptors.validateForRevocation(); err != nil {
		return nil, err
	}
	if err := deposit.validate(); err != nil {
		return nil, err
	}

	derived, err := descriptors.derive(deposit.DerivationIndex)
	if err != nil {
		return nil, err
	}
	emergencyScript, err := txscript.PayToAddrScript(descriptors.EmergencyAddress)
	if err != nil {
		return nil, err
	}

	unvaultTx, err := deriveUnvaultTx(derived, deposit)
	if err != nil {
		return nil, err
	}
	depositIn := derived.depositInput(deposit)
	unvaultIn := input{
		outpoint: wire.OutPoint{Hash: unvaultTx.UnsignedTx.TxHash(), Index: 0},
		value:    btcutil.Amount(unvaultTx.UnsignedTx.TxOut[0].Value),
		derived:  derived.unvault,
	}

	txs := &RevocationTransactions{}
	for i, feerate := range CancelFeerates {
		cancelTx, err := newSweepTx(
			unvaultIn, derived.deposit.ScriptPubKey(), derived.deposit, feerate,
		)
		if err != nil {
			return nil, err
		}
		txs.CancelTxs[i] = cancelTx
	}
	if txs.EmergencyTx, err = newSweepTx(
		depositIn, emergencyScript, nil, EmergencyFeerate,
	); err != nil {
		return nil, err
	}
	if txs.UnvaultEmergencyTx, err = newSweepTx(
		unvaultIn, emergencyScript, nil, EmergencyFeerate,
	); err != nil {
		return nil, err
	}
	return txs, nil
}

type derivedDescriptors struct {
	deposit *descriptor.Derived
	unvault *descriptor.Derived
	cpfp    *descriptor.Derived
}

func (d *Descriptors) derive(index uint32) (*derivedDescriptors, error) {
	deposit, err := d.Deposit.Derive(index)
	if err != nil {
		return nil, err
	}
	unvault, err := d.Unvault.Derive(index)
	if err != nil {
		return nil, err
	}
	cpfp, err := d.Cpfp.Derive(index)
	if err != nil {
		return nil, err
	}
	return &derivedDescriptors{deposit, unvault, cpfp}, nil
}

func (d *derivedDescriptors) depositInput(deposit Deposit) input {
	return input{deposit.Outpoint, deposit.Amount, d.deposit}
}

// input is the prevout spent by a derived transaction along with the
// descriptor locking it.
type input struct {
	outpoint wire.OutPoint
	value    btcutil.Amount
	derived  *descriptor.Derived
}

func deriveUnvaultTx(
	derived *derivedDescriptors, deposit Deposit,
) (*psbt.Packet, error) {
	in := derived.depositInput(deposit)

	tx := newTx(in)
	tx.AddTxOut(wire.NewTxOut(0, derived.unvault.ScriptPubKey()))
	tx.AddTxOut(wire.NewTxOut(int64(CpfpValue), derived.cpfp.ScriptPubKey()))

	weight := estimateWeight(tx, []int{in.derived.MaxSatisfactionSize()})
	fee := btcutil.Amount(UnvaultFeerate * weight)
	value := in.value - fee - CpfpValue
	if value < DustLimit {
		return nil, ErrInsufficientValue
	}
	tx.TxOut[0].Value = int64(value)

	return newPacket(tx, in, derived.unvault, derived.cpfp)
}

// newSweepTx spends the whole given input, minus fees, to a single output.
// The owner of the output is nil if it's not locked by a vault descriptor.
func newSweepTx(
	in input, script []byte, owner *descriptor.Derived, feerate int64,
) (*psbt.Packet, error) {
	tx := newTx(in)
	tx.AddTxOut(wire.NewTxOut(0, script))

	vsize := estimateVsize(tx, []int{in.derived.MaxSatisfactionSize()})
	value := in.value - btcutil.Amount(feerate*vsize)
	if value < DustLimit {
		return nil, ErrInsufficientValue
	}
	tx.TxOut[0].Value = int64(value)

	return newPacket(tx, in, owner)
}

func newTx(in input) *wire.MsgTx {
	tx := wire.NewMsgTx(TxVersion)
	txIn := wire.NewTxIn(&in.outpoint, nil, nil)
	txIn.Sequence = InputSequence
	tx.AddTxIn(txIn)
	return tx
}

func newPacket(
	tx *wire.MsgTx, in input, owners ...*descriptor.Derived,
) (*psbt.Packet, error) {
	ptx, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	updater, err := psbt.NewUpdater(ptx)
	if err != nil {
		return nil, err
	}

	prevout := wire.NewTxOut(int64(in.value), in.derived.ScriptPubKey())
	if err := updater.AddInWitnessUtxo(prevout, 0); err != nil {
		return nil, err
	}
	if err := updater.AddInWitnessScript(in.derived.WitnessScript(), 0); err != nil {
		return nil, err
	}
	if err := updater.AddInSighashType(txscript.SigHashAll, 0); err != nil {
		return nil, err
	}
	for _, der := range in.derived.Bip32Derivations() {
		if err := updater.AddInBip32Derivation(
			der.MasterKeyFingerprint, der.Bip32Path, der.PubKey, 0,
		); err != nil {
			return nil, err
		}
	}

	for i, owner := range owners {
		if owner == nil {
			continue
		}
		if err := updater.AddOutWitnessScript(owner.WitnessScript(), i); err != nil {
			return nil, err
		}
		for _, der := range owner.Bip32Derivations() {
			if err := updater.AddOutBip32Derivation(
				der.MasterKeyFingerprint, der.Bip32Path, der.PubKey, i,
			); err != nil {
				return nil, err
			}
		}
	}

	return ptx, nil
}
