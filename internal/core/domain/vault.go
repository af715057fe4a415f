package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	VaultStatusFunded VaultStatus = iota
	VaultStatusSecured
	VaultStatusActive
)

var (
	ErrVaultNotFound      = fmt.Errorf("vault not found")
	ErrVaultNotSecured    = fmt.Errorf("vault must be secured before being activated")
	ErrMalformedOutpoint  = fmt.Errorf("outpoint must be in the form <txid>:<vout>")
	ErrInvalidVaultAmount = fmt.Errorf("vault amount must be greater than zero")

	vaultStatusString = map[VaultStatus]string{
		VaultStatusFunded:  "funded",
		VaultStatusSecured: "secured",
		VaultStatusActive:  "active",
	}
)

type VaultStatus int

func (s VaultStatus) String() string {
	return vaultStatusString[s]
}

func ParseVaultStatus(str string) (VaultStatus, error) {
	for status, s := range vaultStatusString {
		if s == str {
			return status, nil
		}
	}
	return -1, fmt.Errorf("unknown vault status '%s'", str)
}

// Outpoint identifies a vault by the deposit funding it.
type Outpoint struct {
	TxID string
	VOut uint32
}

func NewOutpoint(outpoint wire.OutPoint) Outpoint {
	return Outpoint{outpoint.Hash.String(), outpoint.Index}
}

// ParseOutpoint parses an outpoint in the form <txid>:<vout>.
func ParseOutpoint(str string) (Outpoint, error) {
	parts := strings.Split(strings.TrimSpace(str), ":")
	if len(parts) != 2 {
		return Outpoint{}, ErrMalformedOutpoint
	}
	if _, err := chainhash.NewHashFromStr(parts[0]); err != nil || len(parts[0]) != 64 {
		return Outpoint{}, fmt.Errorf("invalid outpoint txid '%s'", parts[0])
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint vout '%s'", parts[1])
	}
	return Outpoint{strings.ToLower(parts[0]), uint32(vout)}, nil
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.VOut)
}

func (o Outpoint) Hash() string {
	return o.String()
}

func (o Outpoint) WireOutPoint() (wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(o.TxID)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *hash, Index: o.VOut}, nil
}

// Vault is a deposit locked by the vault descriptors derived at a given
// index, along with the pre-signed transactions collected so far.
type Vault struct {
	Outpoint
	Amount          uint64
	DerivationIndex uint32
	Status          VaultStatus
	RevocationTxs   *vault.SerializedRevocationTxs
	UnvaultTx       string
}

func NewVault(outpoint Outpoint, amount uint64, index uint32) (*Vault, error) {
	if _, err := outpoint.WireOutPoint(); err != nil {
		return nil, fmt.Errorf("invalid outpoint: %s", err)
	}
	if amount == 0 {
		return nil, ErrInvalidVaultAmount
	}
	if index >= 1<<31 {
		return nil, fmt.Errorf("derivation index must be lower than 2^31")
	}
	return &Vault{
		Outpoint:        outpoint,
		Amount:          amount,
		DerivationIndex: index,
		Status:          VaultStatusFunded,
	}, nil
}

func (v *Vault) Key() Outpoint {
	return v.Outpoint
}

// Deposit returns the info required to derive the vault transactions.
func (v *Vault) Deposit() (vault.Deposit, error) {
	outpoint, err := v.WireOutPoint()
	if err != nil {
		return vault.Deposit{}, err
	}
	return vault.Deposit{
		Outpoint:        outpoint,
		Amount:          btcutil.Amount(v.Amount),
		DerivationIndex: v.DerivationIndex,
	}, nil
}

// IsSecured returns whether the revocation txs of the vault are signed.
func (v *Vault) IsSecured() bool {
	return v.Status >= VaultStatusSecured
}

// IsActive returns whether the unvault tx of the vault is signed.
func (v *Vault) IsActive() bool {
	return v.Status == VaultStatusActive
}

// Secure stores the signed revocation txs and marks the vault as secured.
func (v *Vault) Secure(txs vault.SerializedRevocationTxs) {
	v.RevocationTxs = &txs
	if v.Status < VaultStatusSecured {
		v.Status = VaultStatusSecured
	}
}

// Activate stores the signed unvault tx and marks the vault as active.
func (v *Vault) Activate(unvaultTx string) error {
	if !v.IsSecured() {
		return ErrVaultNotSecured
	}
	v.UnvaultTx = unvaultTx
	v.Status = VaultStatusActive
	return nil
}
