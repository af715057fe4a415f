package simulator

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer/dummysigner"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const errFeatureUnavailable = "missing vault descriptors"

// handler answers the requests of a signer channel as the reference device
// does.
type handler struct {
	config ServiceConfig
}

func (h *handler) handle(req dummysigner.Request) dummysigner.Response {
	var (
		resp *dummysigner.Response
		err  error
	)

	switch {
	case req.Request == dummysigner.PingRequest:
		resp = &dummysigner.Response{Request: dummysigner.PongResponse}
	case req.Request == dummysigner.SecureBatchRequest:
		resp, err = h.secureBatch(req.Deposits)
	case req.Request == dummysigner.DelegateBatchRequest:
		resp, err = h.delegateBatch(req.Deposits)
	case req.SerializedRevocationTxs != nil:
		resp, err = h.signRevocationTxs(req.SerializedRevocationTxs)
	case len(req.UnvaultTx) > 0:
		var tx string
		tx, err = h.signSerializedTx(req.UnvaultTx)
		resp = &dummysigner.Response{UnvaultTx: tx}
	case len(req.SpendTx) > 0:
		var tx string
		tx, err = h.signSerializedTx(req.SpendTx)
		resp = &dummysigner.Response{SpendTx: tx}
	default:
		return dummysigner.Response{Error: dummysigner.ErrUnknownRequest}
	}

	if err != nil {
		return dummysigner.Response{Error: err.Error()}
	}
	return *resp
}

func (h *handler) secureBatch(
	deposits []dummysigner.Deposit,
) (*dummysigner.Response, error) {
	if h.config.NoBatch {
		return &dummysigner.Response{Error: dummysigner.ErrBatchUnsupported}, nil
	}
	if !h.config.Descriptors.CanSecure() {
		return &dummysigner.Response{Error: errFeatureUnavailable}, nil
	}

	txs := make([]dummysigner.BatchTxs, 0, len(deposits))
	for _, d := range deposits {
		deposit, err := d.Parse()
		if err != nil {
			return nil, err
		}
		revocationTxs, err := vault.DeriveRevocationTxs(h.config.Descriptors, deposit)
		if err != nil {
			return nil, err
		}
		serialized, err := revocationTxs.Serialize()
		if err != nil {
			return nil, err
		}
		resp, err := h.signRevocationTxs(serialized)
		if err != nil {
			return nil, err
		}
		txs = append(txs, dummysigner.BatchTxs{
			SerializedRevocationTxs: resp.SerializedRevocationTxs,
		})
	}
	return &dummysigner.Response{Transactions: txs}, nil
}

func (h *handler) delegateBatch(
	deposits []dummysigner.Deposit,
) (*dummysigner.Response, error) {
	if h.config.NoBatch {
		return &dummysigner.Response{Error: dummysigner.ErrBatchUnsupported}, nil
	}
	if !h.config.Descriptors.CanDelegate() {
		return &dummysigner.Response{Error: errFeatureUnavailable}, nil
	}

	txs := make([]dummysigner.BatchTxs, 0, len(deposits))
	for _, d := range deposits {
		deposit, err := d.Parse()
		if err != nil {
			return nil, err
		}
		unvaultTx, err := vault.DeriveUnvaultTx(h.config.Descriptors, deposit)
		if err != nil {
			return nil, err
		}
		tx, err := h.signTx(unvaultTx)
		if err != nil {
			return nil, err
		}
		txs = append(txs, dummysigner.BatchTxs{UnvaultTx: tx})
	}
	return &dummysigner.Response{Transactions: txs}, nil
}

func (h *handler) signRevocationTxs(
	serialized *vault.SerializedRevocationTxs,
) (*dummysigner.Response, error) {
	revocationTxs, err := serialized.Deserialize()
	if err != nil {
		return nil, err
	}
	for _, tx := range revocationTxs.Txs() {
		if _, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
			Packet: tx,
			Keys:   h.config.Keys,
		}); err != nil {
			return nil, err
		}
	}
	signed, err := revocationTxs.Serialize()
	if err != nil {
		return nil, err
	}
	return &dummysigner.Response{SerializedRevocationTxs: signed}, nil
}

func (h *handler) signSerializedTx(str string) (string, error) {
	tx, err := vault.DecodePsbt(str)
	if err != nil {
		return "", err
	}
	return h.signTx(tx)
}

func (h *handler) signTx(tx *psbt.Packet) (string, error) {
	if _, err := cosigner.SignPsbt(cosigner.SignPsbtArgs{
		Packet: tx,
		Keys:   h.config.Keys,
	}); err != nil {
		return "", err
	}
	return vault.EncodePsbt(tx)
}
