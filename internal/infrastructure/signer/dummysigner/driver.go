// Package dummysigner is the driver of the reference signing device, that
// exchanges structured messages over TCP.
package dummysigner

import (
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

type device struct {
	conn io.ReadWriteCloser
}

// NewDevice returns the driver of a reference device reachable through the
// given connection.
func NewDevice(conn io.ReadWriteCloser) signer.Device {
	return &device{conn}
}

func (d *device) Ping() error {
	_, err := d.exchange(Request{Request: PingRequest})
	return err
}

func (d *device) SignRevocationTxs(
	txs *vault.RevocationTransactions,
) (*vault.RevocationTransactions, error) {
	serialized, err := txs.Serialize()
	if err != nil {
		return nil, err
	}
	resp, err := d.exchange(Request{SerializedRevocationTxs: serialized})
	if err != nil {
		return nil, err
	}
	return parseRevocationTxs(resp.SerializedRevocationTxs)
}

func (d *device) SignUnvaultTx(tx *psbt.Packet) (*psbt.Packet, error) {
	str, err := vault.EncodePsbt(tx)
	if err != nil {
		return nil, err
	}
	resp, err := d.exchange(Request{UnvaultTx: str})
	if err != nil {
		return nil, err
	}
	return parsePsbt(resp.UnvaultTx)
}

func (d *device) SignSpendTx(tx *psbt.Packet) (*psbt.Packet, error) {
	str, err := vault.EncodePsbt(tx)
	if err != nil {
		return nil, err
	}
	resp, err := d.exchange(Request{SpendTx: str})
	if err != nil {
		return nil, err
	}
	return parsePsbt(resp.SpendTx)
}

func (d *device) SecureBatch(
	deposits []vault.Deposit,
) (*ports.SecureBatchResult, error) {
	resp, err := d.exchange(Request{
		Request:  SecureBatchRequest,
		Deposits: NewDeposits(deposits),
	})
	if err != nil {
		if isBatchUnsupported(err) {
			return &ports.SecureBatchResult{Status: ports.BatchUnsupported}, nil
		}
		return nil, err
	}

	txs := make([]*vault.RevocationTransactions, 0, len(resp.Transactions))
	for _, batchTxs := range resp.Transactions {
		revocationTxs, err := parseRevocationTxs(batchTxs.SerializedRevocationTxs)
		if err != nil {
			return nil, err
		}
		txs = append(txs, revocationTxs)
	}
	return &ports.SecureBatchResult{Status: ports.BatchSigned, Txs: txs}, nil
}

func (d *device) DelegateBatch(
	deposits []vault.Deposit,
) (*ports.DelegateBatchResult, error) {
	resp, err := d.exchange(Request{
		Request:  DelegateBatchRequest,
		Deposits: NewDeposits(deposits),
	})
	if err != nil {
		if isBatchUnsupported(err) {
			return &ports.DelegateBatchResult{Status: ports.BatchUnsupported}, nil
		}
		return nil, err
	}

	txs := make([]*psbt.Packet, 0, len(resp.Transactions))
	for _, batchTxs := range resp.Transactions {
		tx, err := parsePsbt(batchTxs.UnvaultTx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return &ports.DelegateBatchResult{Status: ports.BatchSigned, Txs: txs}, nil
}

func (d *device) Close() error {
	return d.conn.Close()
}

func (d *device) exchange(req Request) (*Response, error) {
	if err := framing.WriteMessage(d.conn, req); err != nil {
		return nil, err
	}
	var resp Response
	if err := framing.ReadMessage(d.conn, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, &framing.DeviceError{Message: resp.Error}
	}
	return &resp, nil
}

func isBatchUnsupported(err error) bool {
	var deviceErr *framing.DeviceError
	return errors.As(err, &deviceErr) && deviceErr.Message == ErrBatchUnsupported
}

func parsePsbt(str string) (*psbt.Packet, error) {
	if len(str) <= 0 {
		return nil, framing.NewProtocolError("missing tx in response")
	}
	tx, err := vault.DecodePsbt(str)
	if err != nil {
		return nil, framing.NewProtocolError("%s", err)
	}
	return tx, nil
}

func parseRevocationTxs(
	txs *vault.SerializedRevocationTxs,
) (*vault.RevocationTransactions, error) {
	if txs == nil {
		return nil, framing.NewProtocolError("missing revocation txs in response")
	}
	revocationTxs, err := txs.Deserialize()
	if err != nil {
		return nil, framing.NewProtocolError("%s", err)
	}
	return revocationTxs, nil
}
