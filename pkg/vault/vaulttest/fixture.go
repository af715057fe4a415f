// Package vaulttest provides deterministic vault keys and descriptors for
// tests.
package vaulttest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/descriptor"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	GoldenDepositTxid   = "899aecbca452ce2fc90cff1608510235503e3b727683b71c7fefee54198fae47"
	GoldenDepositVout   = 1
	GoldenDepositAmount = btcutil.Amount(120000000)

	unvaultCsv = 6
)

var Network = &chaincfg.RegressionNetParams

// Fixture holds the keys of a 2 stakeholders, 1 manager, 2 cosigners vault.
type Fixture struct {
	Stakeholders []*hdkeychain.ExtendedKey
	Managers     []*hdkeychain.ExtendedKey
	Cosigners    []*btcec.PrivateKey
	Descriptors  *vault.Descriptors

	DepositDescriptor string
	UnvaultDescriptor string
	CpfpDescriptor    string
	EmergencyAddress  string
}

func NewFixture(t *testing.T) *Fixture {
	stakeholders := []*hdkeychain.ExtendedKey{
		newMasterKey(t, 1), newMasterKey(t, 2),
	}
	managers := []*hdkeychain.ExtendedKey{newMasterKey(t, 16)}
	cosigners := make([]*btcec.PrivateKey, 0, 2)
	for i := 0; i < 2; i++ {
		seed := sha256.Sum256([]byte(fmt.Sprintf("cosigner %d", i)))
		key, _ := btcec.PrivKeyFromBytes(seed[:])
		cosigners = append(cosigners, key)
	}

	stk := wildcards(t, stakeholders)
	man := wildcards(t, managers)
	cos := make([]string, 0, len(cosigners))
	for _, key := range cosigners {
		cos = append(cos, hex.EncodeToString(key.PubKey().SerializeCompressed()))
	}

	depositDesc := fmt.Sprintf("wsh(multi(2,%s))", strings.Join(stk, ","))
	unvaultDesc := fmt.Sprintf(
		"wsh(andor(multi(1,%s),and_v(v:multi(2,%s),older(%d)),multi(2,%s)))",
		strings.Join(man, ","), strings.Join(cos, ","), unvaultCsv,
		strings.Join(stk, ","),
	)
	cpfpDesc := fmt.Sprintf("wsh(multi(1,%s))", strings.Join(man, ","))

	emergencyHash := sha256.Sum256([]byte("emergency"))
	emergencyAddr, err := btcutil.NewAddressWitnessScriptHash(
		emergencyHash[:], Network,
	)
	require.NoError(t, err)

	deposit, err := descriptor.Parse(depositDesc)
	require.NoError(t, err)
	unvault, err := descriptor.Parse(unvaultDesc)
	require.NoError(t, err)
	cpfp, err := descriptor.Parse(cpfpDesc)
	require.NoError(t, err)

	return &Fixture{
		Stakeholders: stakeholders,
		Managers:     managers,
		Cosigners:    cosigners,
		Descriptors: &vault.Descriptors{
			Deposit:          deposit,
			Unvault:          unvault,
			Cpfp:             cpfp,
			EmergencyAddress: emergencyAddr,
		},
		DepositDescriptor: depositDesc,
		UnvaultDescriptor: unvaultDesc,
		CpfpDescriptor:    cpfpDesc,
		EmergencyAddress:  emergencyAddr.EncodeAddress(),
	}
}

// GoldenDeposit returns the deposit used for regression tests.
func (f *Fixture) GoldenDeposit(t *testing.T) vault.Deposit {
	hash, err := chainhash.NewHashFromStr(GoldenDepositTxid)
	require.NoError(t, err)
	return vault.Deposit{
		Outpoint:        wire.OutPoint{Hash: *hash, Index: GoldenDepositVout},
		Amount:          GoldenDepositAmount,
		DerivationIndex: 0,
	}
}

// Deposit returns a deposit with an outpoint deterministically generated
// from the given index.
func (f *Fixture) Deposit(index uint32) vault.Deposit {
	hash := chainhash.HashH([]byte(fmt.Sprintf("deposit %d", index)))
	return vault.Deposit{
		Outpoint:        wire.OutPoint{Hash: hash, Index: index % 2},
		Amount:          btcutil.Amount(10000000 + int64(index)*1000),
		DerivationIndex: index,
	}
}

// StakeholderXprvs returns the serialized stakeholders' master keys.
func (f *Fixture) StakeholderXprvs() []string {
	xprvs := make([]string, 0, len(f.Stakeholders))
	for _, key := range f.Stakeholders {
		xprvs = append(xprvs, key.String())
	}
	return xprvs
}

// AllKeys returns stakeholders and managers master keys.
func (f *Fixture) AllKeys() []*hdkeychain.ExtendedKey {
	keys := append([]*hdkeychain.ExtendedKey{}, f.Stakeholders...)
	return append(keys, f.Managers...)
}

func newMasterKey(t *testing.T, seedByte byte) *hdkeychain.ExtendedKey {
	key, err := hdkeychain.NewMaster(bytes.Repeat([]byte{seedByte}, 32), Network)
	require.NoError(t, err)
	return key
}

func wildcards(t *testing.T, keys []*hdkeychain.ExtendedKey) []string {
	xpubs := make([]string, 0, len(keys))
	for _, key := range keys {
		xpub, err := key.Neuter()
		require.NoError(t, err)
		xpubs = append(xpubs, xpub.String()+"/*")
	}
	return xpubs
}
