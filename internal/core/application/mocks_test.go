package application_test

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/mock"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

type (
	revocationSignFn    func(*vault.RevocationTransactions) (*vault.RevocationTransactions, error)
	txSignFn            func(*psbt.Packet) (*psbt.Packet, error)
	secureBatchSignFn   func([]vault.Deposit) (*ports.SecureBatchResult, error)
	delegateBatchSignFn func([]vault.Deposit) (*ports.DelegateBatchResult, error)
)

// ports.Signer
type mockSigner struct {
	mock.Mock
	connected bool
	resets    int
	lock      sync.Mutex
}

func newMockedSigner() *mockSigner {
	return &mockSigner{}
}

func (m *mockSigner) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	err := args.Error(0)
	if err == nil {
		m.lock.Lock()
		m.connected = true
		m.lock.Unlock()
	}
	return err
}

func (m *mockSigner) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockSigner) IsConnected() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.connected
}

func (m *mockSigner) SignRevocationTxs(
	ctx context.Context, txs *vault.RevocationTransactions,
) (*vault.RevocationTransactions, error) {
	args := m.Called(ctx, txs)
	if fn, ok := args.Get(0).(revocationSignFn); ok {
		return fn(txs)
	}
	var res *vault.RevocationTransactions
	if a := args.Get(0); a != nil {
		res = a.(*vault.RevocationTransactions)
	}
	return res, args.Error(1)
}

func (m *mockSigner) SignUnvaultTx(
	ctx context.Context, tx *psbt.Packet,
) (*psbt.Packet, error) {
	args := m.Called(ctx, tx)
	return m.txResult(args, tx)
}

func (m *mockSigner) SignSpendTx(
	ctx context.Context, tx *psbt.Packet,
) (*psbt.Packet, error) {
	args := m.Called(ctx, tx)
	return m.txResult(args, tx)
}

func (m *mockSigner) SecureBatch(
	ctx context.Context, deposits []vault.Deposit,
) (*ports.SecureBatchResult, error) {
	args := m.Called(ctx, deposits)
	if fn, ok := args.Get(0).(secureBatchSignFn); ok {
		return fn(deposits)
	}
	var res *ports.SecureBatchResult
	if a := args.Get(0); a != nil {
		res = a.(*ports.SecureBatchResult)
	}
	return res, args.Error(1)
}

func (m *mockSigner) DelegateBatch(
	ctx context.Context, deposits []vault.Deposit,
) (*ports.DelegateBatchResult, error) {
	args := m.Called(ctx, deposits)
	if fn, ok := args.Get(0).(delegateBatchSignFn); ok {
		return fn(deposits)
	}
	var res *ports.DelegateBatchResult
	if a := args.Get(0); a != nil {
		res = a.(*ports.DelegateBatchResult)
	}
	return res, args.Error(1)
}

func (m *mockSigner) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.connected = false
	m.resets++
}

func (m *mockSigner) Close() {
	m.Reset()
}

func (m *mockSigner) numResets() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.resets
}

func (m *mockSigner) txResult(
	args mock.Arguments, tx *psbt.Packet,
) (*psbt.Packet, error) {
	if fn, ok := args.Get(0).(txSignFn); ok {
		return fn(tx)
	}
	var res *psbt.Packet
	if a := args.Get(0); a != nil {
		res = a.(*psbt.Packet)
	}
	return res, args.Error(1)
}
