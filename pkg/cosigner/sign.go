// Package cosigner attaches signatures to PSBTs using locally held extended
// private keys.
//
// A signature is attached under a public key declared in an input only if
// the key derived from a local xprv along the declared path matches it.
package cosigner

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/vulpemventures/vault-cosigner/pkg/bip32path"
)

type SignPsbtArgs struct {
	Packet *psbt.Packet
	Keys   []*hdkeychain.ExtendedKey
}

func (a SignPsbtArgs) validate() error {
	if a.Packet == nil || a.Packet.UnsignedTx == nil {
		return ErrMissingPsbt
	}
	if len(a.Keys) <= 0 {
		return ErrMissingKeys
	}
	for _, key := range a.Keys {
		if key == nil || !key.IsPrivate() {
			return ErrNotPrivateKey
		}
	}
	for i, in := range a.Packet.Inputs {
		if in.WitnessUtxo == nil {
			return fmt.Errorf("input %d: %w", i, ErrMissingWitnessUtxo)
		}
	}
	return nil
}

func (a SignPsbtArgs) keysByFingerprint() map[uint32][]*hdkeychain.ExtendedKey {
	keys := make(map[uint32][]*hdkeychain.ExtendedKey)
	for _, key := range a.Keys {
		fingerprint := Fingerprint(key)
		keys[fingerprint] = append(keys[fingerprint], key)
	}
	return keys
}

type SignPsbtResult struct {
	// Indexes of the inputs that got at least one signature.
	SignedInputs []int
}

// SignPsbt signs in place every input of the given PSBT that declares a
// key derivable from one of the given extended private keys.
// Inputs without a witness script are left untouched.
func SignPsbt(args SignPsbtArgs) (*SignPsbtResult, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	ptx := args.Packet
	tx := ptx.UnsignedTx
	prevoutFetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range ptx.Inputs {
		prevoutFetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	sighashes := txscript.NewTxSigHashes(tx, prevoutFetcher)
	keys := args.keysByFingerprint()

	signedInputs := make([]int, 0)
	for i := range ptx.Inputs {
		in := &ptx.Inputs[i]
		if len(in.WitnessScript) <= 0 {
			continue
		}
		if !isP2WSHFor(in.WitnessUtxo.PkScript, in.WitnessScript) {
			return nil, fmt.Errorf("input %d: %w", i, ErrUnsupportedInputType)
		}

		sighashType := in.SighashType
		if sighashType == 0 {
			sighashType = txscript.SigHashAll
		}
		hash, err := txscript.CalcWitnessSigHash(
			in.WitnessScript, sighashes, sighashType, tx, i, in.WitnessUtxo.Value,
		)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		signed := false
		for _, derivation := range in.Bip32Derivation {
			for _, key := range keys[derivation.MasterKeyFingerprint] {
				prvkey, err := deriveSigningKey(key, derivation.Bip32Path)
				if err != nil {
					return nil, fmt.Errorf("input %d: %w", i, err)
				}
				if !bytes.Equal(prvkey.PubKey().SerializeCompressed(), derivation.PubKey) {
					continue
				}

				sig := ecdsa.Sign(prvkey, hash)
				addPartialSig(
					in, derivation.PubKey,
					append(sig.Serialize(), byte(sighashType)),
				)
				signed = true
			}
		}
		if signed {
			signedInputs = append(signedInputs, i)
		}
	}

	return &SignPsbtResult{signedInputs}, nil
}

// Fingerprint returns the fingerprint of the given extended key as declared
// in PSBT key derivations.
func Fingerprint(key *hdkeychain.ExtendedKey) uint32 {
	pubkey, err := key.ECPubKey()
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(
		btcutil.Hash160(pubkey.SerializeCompressed())[:4],
	)
}

func deriveSigningKey(
	key *hdkeychain.ExtendedKey, path []uint32,
) (*btcec.PrivateKey, error) {
	child, err := bip32path.Path(path).Derive(key)
	if err != nil {
		return nil, fmt.Errorf("%w along path %s: %s",
			ErrKeyDerivation, bip32path.Path(path), err)
	}
	prvkey, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyDerivation, err)
	}
	return prvkey, nil
}

func isP2WSHFor(script, witnessScript []byte) bool {
	if !txscript.IsPayToWitnessScriptHash(script) {
		return false
	}
	hash := sha256.Sum256(witnessScript)
	return bytes.Equal(script[2:], hash[:])
}

// addPartialSig replaces the signature for the given key if already
// present.
func addPartialSig(in *psbt.PInput, pubkey, sig []byte) {
	for _, partialSig := range in.PartialSigs {
		if bytes.Equal(partialSig.PubKey, pubkey) {
			partialSig.Signature = sig
			return
		}
	}
	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    append([]byte{}, pubkey...),
		Signature: sig,
	})
}
