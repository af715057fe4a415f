package signer

import (
	"context"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

var (
	ErrNotConnected   = ports.ErrSignerNotConnected
	ErrRequestPending = ports.ErrRequestPending
	ErrChannelClosed  = ports.ErrSignerClosed
	ErrDeviceNotFound = fmt.Errorf("signing device not found")
)

// Device is the driver of a signing device. Every method is a blocking
// exchange over the transport, with no timeout: a pending exchange is
// abandoned only by closing the device.
type Device interface {
	Ping() error
	SignRevocationTxs(
		txs *vault.RevocationTransactions,
	) (*vault.RevocationTransactions, error)
	SignUnvaultTx(tx *psbt.Packet) (*psbt.Packet, error)
	SignSpendTx(tx *psbt.Packet) (*psbt.Packet, error)
	SecureBatch(deposits []vault.Deposit) (*ports.SecureBatchResult, error)
	DelegateBatch(deposits []vault.Deposit) (*ports.DelegateBatchResult, error)
	Close() error
}

// Driver builds a Device on top of an open transport.
type Driver func(conn io.ReadWriteCloser) Device

// Connector opens the transport to a device and returns its driver.
type Connector func(ctx context.Context) (Device, error)

// Observer is notified of the outcome of every request and of any change of
// connectivity.
type Observer interface {
	OnRequest(verb string, err error)
	OnConnectionChange(connected bool)
}
