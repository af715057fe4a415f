package domain

import (
	"context"

	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	VaultAdded VaultEventType = iota
	VaultSecured
	VaultActivated
)

var (
	vaultEventTypeString = map[VaultEventType]string{
		VaultAdded:     "VaultAdded",
		VaultSecured:   "VaultSecured",
		VaultActivated: "VaultActivated",
	}
)

type VaultEventType int

func (t VaultEventType) String() string {
	return vaultEventTypeString[t]
}

// VaultEvent holds info about an event occured within the repository.
type VaultEvent struct {
	EventType VaultEventType
	Vaults    []Vault
}

// VaultRepository is the system of record of the vaults, keeping track of
// their status and of their signed transactions.
type VaultRepository interface {
	// AddVaults adds the provided vaults to the repository by preventing
	// duplicates.
	// Generates a VaultAdded event if successfull.
	AddVaults(ctx context.Context, vaults []*Vault) (int, error)
	// GetVault returns the vault identified by the given outpoint.
	GetVault(ctx context.Context, outpoint Outpoint) (*Vault, error)
	// ListVaults returns the vaults with any of the given statuses, or all of
	// them if none is given, ordered by derivation index.
	ListVaults(ctx context.Context, statuses ...VaultStatus) ([]*Vault, error)
	// SetRevocationTxs stores the signed revocation txs of a vault and marks
	// it as secured.
	// Generates a VaultSecured event if successfull.
	SetRevocationTxs(
		ctx context.Context, outpoint Outpoint, txs vault.SerializedRevocationTxs,
	) error
	// GetRevocationTxs returns the revocation txs of a vault, nil if not set.
	GetRevocationTxs(
		ctx context.Context, outpoint Outpoint,
	) (*vault.SerializedRevocationTxs, error)
	// SetUnvaultTx stores the signed unvault tx of a secured vault and marks
	// it as active.
	// Generates a VaultActivated event if successfull.
	SetUnvaultTx(ctx context.Context, outpoint Outpoint, tx string) error
	// GetUnvaultTx returns the unvault tx of a vault, empty if not set.
	GetUnvaultTx(ctx context.Context, outpoint Outpoint) (string, error)
	// GetEventChannel returns the channel of VaultEvents.
	GetEventChannel() chan VaultEvent
}
