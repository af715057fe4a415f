package application

import (
	"strings"

	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
)

// Features tells which signing verbs are available given the configured
// descriptors.
type Features struct {
	Secure   bool
	Delegate bool
}

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Vaults []domain.Vault

func (v Vaults) Outpoints() Outpoints {
	outpoints := make([]domain.Outpoint, 0, len(v))
	for _, vault := range v {
		outpoints = append(outpoints, vault.Outpoint)
	}
	return outpoints
}

type Outpoints []domain.Outpoint

func (o Outpoints) String() string {
	strs := make([]string, 0, len(o))
	for _, outpoint := range o {
		strs = append(strs, outpoint.String())
	}
	return strings.Join(strs, ", ")
}
