// Package specter is the driver of the Specter DIY signing device, that
// exchanges ASCII commands over a serial port or a TCP socket. The device
// doesn't support batching.
package specter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	fingerprintCmd = "fingerprint"
	signCmd        = "sign"
)

type device struct {
	conn     io.ReadWriteCloser
	lineConn *framing.LineConn
}

// NewDevice returns the driver of a Specter device reachable through the
// given connection.
func NewDevice(conn io.ReadWriteCloser) signer.Device {
	return &device{conn, framing.NewLineConn(conn)}
}

func (d *device) Ping() error {
	_, err := d.lineConn.Exchange(fingerprintCmd)
	return err
}

// SignRevocationTxs signs every tx of the set with a dedicated command.
func (d *device) SignRevocationTxs(
	txs *vault.RevocationTransactions,
) (*vault.RevocationTransactions, error) {
	signedTxs := make([]*psbt.Packet, 0, vault.NumCancelTxs+2)
	for _, tx := range txs.Txs() {
		signed, err := d.signPsbt(tx)
		if err != nil {
			return nil, err
		}
		signedTxs = append(signedTxs, signed)
	}
	return vault.NewRevocationTransactions(signedTxs)
}

func (d *device) SignUnvaultTx(tx *psbt.Packet) (*psbt.Packet, error) {
	return d.signPsbt(tx)
}

func (d *device) SignSpendTx(tx *psbt.Packet) (*psbt.Packet, error) {
	return d.signPsbt(tx)
}

func (d *device) SecureBatch([]vault.Deposit) (*ports.SecureBatchResult, error) {
	return &ports.SecureBatchResult{Status: ports.BatchUnsupported}, nil
}

func (d *device) DelegateBatch([]vault.Deposit) (*ports.DelegateBatchResult, error) {
	return &ports.DelegateBatchResult{Status: ports.BatchUnsupported}, nil
}

func (d *device) Close() error {
	return d.conn.Close()
}

// signPsbt sends the given psbt to the device and merges the signatures of
// the returned one into a copy of the original.
func (d *device) signPsbt(ptx *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := ptx.Serialize(&buf); err != nil {
		return nil, err
	}
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, err := d.lineConn.Exchange(fmt.Sprintf("%s %s", signCmd, b64))
	if err != nil {
		return nil, err
	}

	reduced, err := vault.DecodePsbt(strings.TrimSpace(resp))
	if err != nil {
		return nil, framing.NewProtocolError("%s", err)
	}

	signed, err := psbt.NewFromRawBytes(bytes.NewReader(buf.Bytes()), false)
	if err != nil {
		return nil, err
	}
	if err := cosigner.MergePartialSigs(signed, reduced); err != nil {
		return nil, framing.NewProtocolError("failed to merge signatures: %s", err)
	}
	return signed, nil
}
