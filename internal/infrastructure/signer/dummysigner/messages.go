package dummysigner

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
	PingRequest          = "ping"
	PongResponse         = "pong"
	SecureBatchRequest   = "secure_batch"
	DelegateBatchRequest = "delegate_batch"

	ErrBatchUnsupported = "batch unsupported"
	ErrUnknownRequest   = "unknown request"
)

// Request is the structured message sent to the device. The fields set
// determine the kind of request:
//   - request=ping is a liveness probe.
//   - cancel_tx, emergency_tx and emergency_unvault_tx ask to sign a
//     revocation set.
//   - unvault_tx or spend_tx ask to sign the related tx.
//   - request=secure_batch|delegate_batch with deposits ask to derive and
//     sign the revocation sets or the unvault txs of the deposits.
type Request struct {
	Request string `json:"request,omitempty"`
	*vault.SerializedRevocationTxs
	UnvaultTx string    `json:"unvault_tx,omitempty"`
	SpendTx   string    `json:"spend_tx,omitempty"`
	Deposits  []Deposit `json:"deposits,omitempty"`
}

// Response is the structured message answered by the device, it has the
// same fields of the request plus the error and the batch ones.
type Response struct {
	Error   string `json:"error,omitempty"`
	Request string `json:"request,omitempty"`
	*vault.SerializedRevocationTxs
	UnvaultTx    string     `json:"unvault_tx,omitempty"`
	SpendTx      string     `json:"spend_tx,omitempty"`
	Transactions []BatchTxs `json:"transactions,omitempty"`
}

// BatchTxs are the txs signed for one deposit of a batch.
type BatchTxs struct {
	*vault.SerializedRevocationTxs
	UnvaultTx string `json:"unvault_tx,omitempty"`
}

type Deposit struct {
	Outpoint        string `json:"outpoint"`
	Amount          int64  `json:"amount"`
	DerivationIndex uint32 `json:"derivation_index"`
}

func NewDeposit(deposit vault.Deposit) Deposit {
	return Deposit{
		Outpoint:        deposit.Outpoint.String(),
		Amount:          int64(deposit.Amount),
		DerivationIndex: deposit.DerivationIndex,
	}
}

func NewDeposits(deposits []vault.Deposit) []Deposit {
	list := make([]Deposit, 0, len(deposits))
	for _, d := range deposits {
		list = append(list, NewDeposit(d))
	}
	return list
}

func (d Deposit) Parse() (vault.Deposit, error) {
	parts := strings.Split(d.Outpoint, ":")
	if len(parts) != 2 {
		return vault.Deposit{}, fmt.Errorf("invalid outpoint '%s'", d.Outpoint)
	}
	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return vault.Deposit{}, fmt.Errorf("invalid outpoint txid: %s", err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return vault.Deposit{}, fmt.Errorf("invalid outpoint vout: %s", err)
	}
	if d.Amount <= 0 {
		return vault.Deposit{}, vault.ErrNullAmount
	}
	return vault.Deposit{
		Outpoint:        *wire.NewOutPoint(hash, uint32(index)),
		Amount:          btcutil.Amount(d.Amount),
		DerivationIndex: d.DerivationIndex,
	}, nil
}
