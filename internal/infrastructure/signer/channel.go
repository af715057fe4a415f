package signer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	verbConnect        = "connect"
	verbPing           = "ping"
	verbSignRevocation = "sign_revocation_txs"
	verbSignUnvault    = "sign_unvault_tx"
	verbSignSpend      = "sign_spend_tx"
	verbSecureBatch    = "secure_batch"
	verbDelegateBatch  = "delegate_batch"
)

type request struct {
	ctx    context.Context
	verb   string
	fn     func(Device) (interface{}, error)
	chResp chan response
}

type response struct {
	value interface{}
	err   error
}

// Channel is the signer channel to a device. One goroutine owns the device
// and serves the requests of the channel one at a time, in order.
type Channel struct {
	connector Connector
	observer  Observer

	inbox  chan *request
	chQuit chan struct{}

	device     Device
	deviceLock *sync.RWMutex
	pending    *atomic.Bool
	closeOnce  *sync.Once

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

// NewChannel returns a disconnected channel to the device reachable with
// the given connector. The observer is optional.
func NewChannel(connector Connector, observer Observer) (*Channel, error) {
	if connector == nil {
		return nil, fmt.Errorf("missing device connector")
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("signer: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("signer: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	c := &Channel{
		connector:  connector,
		observer:   observer,
		inbox:      make(chan *request),
		chQuit:     make(chan struct{}),
		deviceLock: &sync.RWMutex{},
		pending:    &atomic.Bool{},
		closeOnce:  &sync.Once{},
		log:        logFn,
		warn:       warnFn,
	}

	go c.run()

	return c, nil
}

var _ ports.Signer = (*Channel)(nil)

func (c *Channel) Connect(ctx context.Context) error {
	_, err := c.send(ctx, verbConnect, nil)
	return err
}

func (c *Channel) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	_, err := c.send(ctx, verbPing, func(d Device) (interface{}, error) {
		return nil, d.Ping()
	})
	return err
}

func (c *Channel) IsConnected() bool {
	return c.getDevice() != nil
}

func (c *Channel) SignRevocationTxs(
	ctx context.Context, txs *vault.RevocationTransactions,
) (*vault.RevocationTransactions, error) {
	if txs == nil {
		return nil, fmt.Errorf("missing revocation txs")
	}
	res, err := c.sign(ctx, verbSignRevocation, func(d Device) (interface{}, error) {
		signed, err := d.SignRevocationTxs(txs)
		if err != nil {
			return nil, err
		}
		if err := checkRevocationTxs(txs, signed); err != nil {
			return nil, err
		}
		return signed, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*vault.RevocationTransactions), nil
}

func (c *Channel) SignUnvaultTx(
	ctx context.Context, tx *psbt.Packet,
) (*psbt.Packet, error) {
	return c.signTx(ctx, verbSignUnvault, tx, func(d Device) (*psbt.Packet, error) {
		return d.SignUnvaultTx(tx)
	})
}

func (c *Channel) SignSpendTx(
	ctx context.Context, tx *psbt.Packet,
) (*psbt.Packet, error) {
	return c.signTx(ctx, verbSignSpend, tx, func(d Device) (*psbt.Packet, error) {
		return d.SignSpendTx(tx)
	})
}

func (c *Channel) SecureBatch(
	ctx context.Context, deposits []vault.Deposit,
) (*ports.SecureBatchResult, error) {
	res, err := c.sign(ctx, verbSecureBatch, func(d Device) (interface{}, error) {
		res, err := d.SecureBatch(deposits)
		if err != nil {
			return nil, err
		}
		if res.Status == ports.BatchSigned && len(res.Txs) != len(deposits) {
			return nil, framing.NewProtocolError(
				"expected %d revocation sets, got %d", len(deposits), len(res.Txs),
			)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.SecureBatchResult), nil
}

func (c *Channel) DelegateBatch(
	ctx context.Context, deposits []vault.Deposit,
) (*ports.DelegateBatchResult, error) {
	res, err := c.sign(ctx, verbDelegateBatch, func(d Device) (interface{}, error) {
		res, err := d.DelegateBatch(deposits)
		if err != nil {
			return nil, err
		}
		if res.Status == ports.BatchSigned && len(res.Txs) != len(deposits) {
			return nil, framing.NewProtocolError(
				"expected %d unvault txs, got %d", len(deposits), len(res.Txs),
			)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.DelegateBatchResult), nil
}

// Reset drops the transport to the device. A pending request fails with a
// transport error and the channel becomes disconnected.
func (c *Channel) Reset() {
	if device := c.getDevice(); device != nil {
		c.dropDevice(device)
	}
}

// Close stops the channel for good.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.chQuit)
		c.Reset()
	})
}

func (c *Channel) signTx(
	ctx context.Context, verb string, tx *psbt.Packet,
	signFn func(Device) (*psbt.Packet, error),
) (*psbt.Packet, error) {
	if tx == nil || tx.UnsignedTx == nil {
		return nil, fmt.Errorf("missing tx")
	}
	res, err := c.sign(ctx, verb, func(d Device) (interface{}, error) {
		signed, err := signFn(d)
		if err != nil {
			return nil, err
		}
		if err := checkTx(tx, signed); err != nil {
			return nil, err
		}
		return signed, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*psbt.Packet), nil
}

// sign sends a signing request, making sure it's the only one outstanding.
func (c *Channel) sign(
	ctx context.Context, verb string, fn func(Device) (interface{}, error),
) (interface{}, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if !c.pending.CompareAndSwap(false, true) {
		return nil, ErrRequestPending
	}
	defer c.pending.Store(false)

	return c.send(ctx, verb, fn)
}

func (c *Channel) send(
	ctx context.Context, verb string, fn func(Device) (interface{}, error),
) (interface{}, error) {
	req := &request{ctx, verb, fn, make(chan response, 1)}

	select {
	case <-c.chQuit:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case c.inbox <- req:
	}

	select {
	case <-c.chQuit:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		// There's no way to cancel an exchange other than dropping the
		// transport.
		c.warn(ctx.Err(), "abandoning pending %s request", verb)
		c.Reset()
		return nil, ctx.Err()
	case resp := <-req.chResp:
		c.notifyRequest(verb, resp.err)
		return resp.value, resp.err
	}
}

func (c *Channel) run() {
	for {
		select {
		case <-c.chQuit:
			return
		case req := <-c.inbox:
			req.chResp <- c.serve(req)
		}
	}
}

func (c *Channel) serve(req *request) response {
	if req.verb == verbConnect {
		if c.IsConnected() {
			return response{}
		}
		device, err := c.connector(req.ctx)
		if err != nil {
			if !framing.IsTransportError(err) {
				err = framing.NewTransportError("connect", err)
			}
			return response{err: err}
		}
		c.setDevice(device)
		return response{}
	}

	device := c.getDevice()
	if device == nil {
		return response{err: ErrNotConnected}
	}

	c.log("serving %s request", req.verb)
	value, err := req.fn(device)
	if err != nil && framing.IsTransportError(err) {
		c.warn(err, "lost connection with device")
		c.dropDevice(device)
	}
	return response{value, err}
}

func (c *Channel) getDevice() Device {
	c.deviceLock.RLock()
	defer c.deviceLock.RUnlock()
	return c.device
}

func (c *Channel) setDevice(device Device) {
	c.deviceLock.Lock()
	c.device = device
	c.deviceLock.Unlock()

	c.log("connected to device")
	c.notifyConnection(true)
}

// dropDevice closes the given device if it's still the one in use.
func (c *Channel) dropDevice(device Device) {
	c.deviceLock.Lock()
	if c.device != device {
		c.deviceLock.Unlock()
		return
	}
	c.device = nil
	c.deviceLock.Unlock()

	if err := device.Close(); err != nil {
		c.warn(err, "failed to close device")
	}
	c.log("disconnected from device")
	c.notifyConnection(false)
}

func (c *Channel) notifyRequest(verb string, err error) {
	if c.observer != nil {
		c.observer.OnRequest(verb, err)
	}
}

func (c *Channel) notifyConnection(connected bool) {
	if c.observer != nil {
		c.observer.OnConnectionChange(connected)
	}
}

func checkTx(expected, signed *psbt.Packet) error {
	if signed == nil || signed.UnsignedTx == nil {
		return framing.NewProtocolError("missing signed tx in response")
	}
	expectedTxid := expected.UnsignedTx.TxHash()
	if txid := signed.UnsignedTx.TxHash(); txid != expectedTxid {
		return framing.NewProtocolError(
			"expected signed tx %s, got %s", expectedTxid, txid,
		)
	}
	return nil
}

func checkRevocationTxs(expected, signed *vault.RevocationTransactions) error {
	if signed == nil {
		return framing.NewProtocolError("missing revocation txs in response")
	}
	signedTxs := signed.Txs()
	for i, tx := range expected.Txs() {
		if err := checkTx(tx, signedTxs[i]); err != nil {
			return err
		}
	}
	return nil
}
