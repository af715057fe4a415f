package ports

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	BatchSigned BatchStatus = iota
	BatchUnsupported
)

var (
	ErrSignerNotConnected = fmt.Errorf("signer is not connected")
	ErrRequestPending     = fmt.Errorf("a signing request is already pending")
	ErrSignerClosed       = fmt.Errorf("signer is closed")
)

// BatchStatus tells whether a batch request has been served by the device.
// A failed request is reported as an error instead.
type BatchStatus int

func (s BatchStatus) String() string {
	if s == BatchUnsupported {
		return "unsupported"
	}
	return "signed"
}

type SecureBatchResult struct {
	Status BatchStatus
	// Signed revocation txs, one per deposit and in the same order.
	Txs []*vault.RevocationTransactions
}

type DelegateBatchResult struct {
	Status BatchStatus
	// Signed unvault txs, one per deposit and in the same order.
	Txs []*psbt.Packet
}

// Signer is the channel to the external signing device. It allows at most
// one outstanding request at a time and never holds key material.
type Signer interface {
	// Connect opens the transport to the device, it's a no-op if already
	// connected.
	Connect(ctx context.Context) error
	// Ping probes the liveness of the device.
	Ping(ctx context.Context) error
	// IsConnected returns whether the transport to the device is open.
	IsConnected() bool
	// SignRevocationTxs returns the given revocation txs signed by the
	// device.
	SignRevocationTxs(
		ctx context.Context, txs *vault.RevocationTransactions,
	) (*vault.RevocationTransactions, error)
	// SignUnvaultTx returns the given unvault tx signed by the device.
	SignUnvaultTx(ctx context.Context, tx *psbt.Packet) (*psbt.Packet, error)
	// SignSpendTx returns the given spend tx signed by the device.
	SignSpendTx(ctx context.Context, tx *psbt.Packet) (*psbt.Packet, error)
	// SecureBatch requests the device to derive and sign the revocation txs
	// of all the given deposits at once.
	SecureBatch(
		ctx context.Context, deposits []vault.Deposit,
	) (*SecureBatchResult, error)
	// DelegateBatch requests the device to derive and sign the unvault tx of
	// all the given deposits at once.
	DelegateBatch(
		ctx context.Context, deposits []vault.Deposit,
	) (*DelegateBatchResult, error)
	// Reset drops the transport, abandoning any pending request.
	Reset()
	// Close releases the device for good.
	Close()
}
