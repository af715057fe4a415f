package simulator

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	minPort = 1024
	maxPort = 49151
)

type ServiceConfig struct {
	// Port to listen on, 0 picks a random one.
	Port int
	// Keys used to sign, they must be private.
	Keys []*hdkeychain.ExtendedKey
	// Descriptors used to derive the txs of batch requests. Batch requests
	// are answered with an error if not defined.
	Descriptors *vault.Descriptors
	// NoBatch makes the simulator behave like a device that doesn't support
	// batching.
	NoBatch bool
}

func (c ServiceConfig) validate() error {
	if c.Port != 0 && (c.Port < minPort || c.Port > maxPort) {
		return fmt.Errorf("port must be in range [%d, %d]", minPort, maxPort)
	}
	if len(c.Keys) <= 0 {
		return fmt.Errorf("missing signing keys")
	}
	for _, key := range c.Keys {
		if key == nil || !key.IsPrivate() {
			return fmt.Errorf("signing keys must be extended private keys")
		}
	}
	return nil
}

func (c ServiceConfig) address() string {
	return fmt.Sprintf(":%d", c.Port)
}
