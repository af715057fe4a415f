package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NumCancelTxs is the number of cancel transactions of a revocation set,
// one per supported feerate.
const NumCancelTxs = 5

var (
	ErrMissingRevocationTx   = fmt.Errorf("missing transaction in revocation set")
	ErrInvalidRevocationSize = fmt.Errorf(
		"revocation set must contain exactly %d transactions", NumCancelTxs+2,
	)
)

// RevocationTransactions is the set of transactions allowing stakeholders
// to unwind a vault.
type RevocationTransactions struct {
	CancelTxs          [NumCancelTxs]*psbt.Packet
	EmergencyTx        *psbt.Packet
	UnvaultEmergencyTx *psbt.Packet
}

// NewRevocationTransactions builds a revocation set out of the given list
// of transactions ordered like the one returned by Txs().
func NewRevocationTransactions(
	txs []*psbt.Packet,
) (*RevocationTransactions, error) {
	if len(txs) != NumCancelTxs+2 {
		return nil, ErrInvalidRevocationSize
	}
	r := &RevocationTransactions{
		EmergencyTx:        txs[NumCancelTxs],
		UnvaultEmergencyTx: txs[NumCancelTxs+1],
	}
	copy(r.CancelTxs[:], txs[:NumCancelTxs])
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Txs returns the cancel txs followed by the emergency and the
// unvault-emergency ones.
func (r *RevocationTransactions) Txs() []*psbt.Packet {
	txs := make([]*psbt.Packet, 0, NumCancelTxs+2)
	txs = append(txs, r.CancelTxs[:]...)
	return append(txs, r.EmergencyTx, r.UnvaultEmergencyTx)
}

// Txids returns the ids of the unsigned transactions, ordered like Txs().
func (r *RevocationTransactions) Txids() []chainhash.Hash {
	txs := r.Txs()
	txids := make([]chainhash.Hash, 0, len(txs))
	for _, tx := range txs {
		txids = append(txids, tx.UnsignedTx.TxHash())
	}
	return txids
}

// Serialize returns the base64 encoding of the set, as exchanged with the
// signing device and the system of record.
func (r *RevocationTransactions) Serialize() (*SerializedRevocationTxs, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	cancelTxs := make([]string, 0, NumCancelTxs)
	for _, tx := range r.CancelTxs {
		str, err := EncodePsbt(tx)
		if err != nil {
			return nil, err
		}
		cancelTxs = append(cancelTxs, str)
	}
	emergencyTx, err := EncodePsbt(r.EmergencyTx)
	if err != nil {
		return nil, err
	}
	unvaultEmergencyTx, err := EncodePsbt(r.UnvaultEmergencyTx)
	if err != nil {
		return nil, err
	}

	return &SerializedRevocationTxs{
		CancelTx:           cancelTxs,
		EmergencyTx:        emergencyTx,
		EmergencyUnvaultTx: unvaultEmergencyTx,
	}, nil
}

func (r *RevocationTransactions) validate() error {
	for _, tx := range r.Txs() {
		if tx == nil {
			return ErrMissingRevocationTx
		}
	}
	return nil
}

// SerializedRevocationTxs is the wire format of a revocation set.
type SerializedRevocationTxs struct {
	CancelTx           []string `json:"cancel_tx"`
	EmergencyTx        string   `json:"emergency_tx"`
	EmergencyUnvaultTx string   `json:"emergency_unvault_tx"`
}

// Deserialize decodes the set. All the transactions are required.
func (s SerializedRevocationTxs) Deserialize() (*RevocationTransactions, error) {
	if len(s.CancelTx) != NumCancelTxs {
		return nil, fmt.Errorf(
			"expected %d cancel transactions, got %d", NumCancelTxs, len(s.CancelTx),
		)
	}
	if s.EmergencyTx == "" || s.EmergencyUnvaultTx == "" {
		return nil, ErrMissingRevocationTx
	}

	txs := make([]*psbt.Packet, 0, NumCancelTxs+2)
	for _, str := range append(
		append([]string{}, s.CancelTx...), s.EmergencyTx, s.EmergencyUnvaultTx,
	) {
		tx, err := DecodePsbt(str)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return NewRevocationTransactions(txs)
}

func EncodePsbt(ptx *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := ptx.Serialize(&buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func DecodePsbt(str string) (*psbt.Packet, error) {
	ptx, err := psbt.NewFromRawBytes(bytes.NewBufferString(str), true)
	if err != nil {
		return nil, fmt.Errorf("invalid psbt: %w", err)
	}
	return ptx, nil
}
