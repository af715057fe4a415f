package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

type vaultInmemoryStore struct {
	vaults map[string]*domain.Vault
	lock   *sync.RWMutex
}

type vaultRepository struct {
	store            *vaultInmemoryStore
	chEvents         chan domain.VaultEvent
	externalChEvents chan domain.VaultEvent
	chLock           *sync.Mutex
	closed           bool
}

func NewVaultRepository() domain.VaultRepository {
	return newVaultRepository()
}

func newVaultRepository() *vaultRepository {
	return &vaultRepository{
		store: &vaultInmemoryStore{
			vaults: make(map[string]*domain.Vault),
			lock:   &sync.RWMutex{},
		},
		chEvents:         make(chan domain.VaultEvent),
		externalChEvents: make(chan domain.VaultEvent),
		chLock:           &sync.Mutex{},
	}
}

func (r *vaultRepository) AddVaults(
	_ context.Context, vaults []*domain.Vault,
) (int, error) {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	return r.addVaults(vaults)
}

func (r *vaultRepository) GetVault(
	_ context.Context, outpoint domain.Outpoint,
) (*domain.Vault, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	v, ok := r.store.vaults[outpoint.Hash()]
	if !ok {
		return nil, domain.ErrVaultNotFound
	}
	return copyVault(v), nil
}

func (r *vaultRepository) ListVaults(
	_ context.Context, statuses ...domain.VaultStatus,
) ([]*domain.Vault, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	filter := make(map[domain.VaultStatus]bool)
	for _, status := range statuses {
		filter[status] = true
	}

	vaults := make([]*domain.Vault, 0, len(r.store.vaults))
	for _, v := range r.store.vaults {
		if len(filter) > 0 && !filter[v.Status] {
			continue
		}
		vaults = append(vaults, copyVault(v))
	}
	sort.SliceStable(vaults, func(i, j int) bool {
		return vaults[i].DerivationIndex < vaults[j].DerivationIndex
	})
	return vaults, nil
}

func (r *vaultRepository) SetRevocationTxs(
	_ context.Context, outpoint domain.Outpoint,
	txs vault.SerializedRevocationTxs,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	v, ok := r.store.vaults[outpoint.Hash()]
	if !ok {
		return domain.ErrVaultNotFound
	}
	v.Secure(txs)

	go r.publishEvent(domain.VaultEvent{
		EventType: domain.VaultSecured,
		Vaults:    []domain.Vault{*copyVault(v)},
	})
	return nil
}

func (r *vaultRepository) GetRevocationTxs(
	_ context.Context, outpoint domain.Outpoint,
) (*vault.SerializedRevocationTxs, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	v, ok := r.store.vaults[outpoint.Hash()]
	if !ok {
		return nil, domain.ErrVaultNotFound
	}
	return copyVault(v).RevocationTxs, nil
}

func (r *vaultRepository) SetUnvaultTx(
	_ context.Context, outpoint domain.Outpoint, tx string,
) error {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	v, ok := r.store.vaults[outpoint.Hash()]
	if !ok {
		return domain.ErrVaultNotFound
	}
	if err := v.Activate(tx); err != nil {
		return err
	}

	go r.publishEvent(domain.VaultEvent{
		EventType: domain.VaultActivated,
		Vaults:    []domain.Vault{*copyVault(v)},
	})
	return nil
}

func (r *vaultRepository) GetUnvaultTx(
	_ context.Context, outpoint domain.Outpoint,
) (string, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	v, ok := r.store.vaults[outpoint.Hash()]
	if !ok {
		return "", domain.ErrVaultNotFound
	}
	return v.UnvaultTx, nil
}

func (r *vaultRepository) GetEventChannel() chan domain.VaultEvent {
	return r.externalChEvents
}

func (r *vaultRepository) addVaults(vaults []*domain.Vault) (int, error) {
	added := make([]domain.Vault, 0, len(vaults))
	indexes := make(map[uint32]string)
	for _, v := range r.store.vaults {
		indexes[v.DerivationIndex] = v.Hash()
	}

	for _, v := range vaults {
		if _, ok := r.store.vaults[v.Hash()]; ok {
			continue
		}
		if other, ok := indexes[v.DerivationIndex]; ok {
			return 0, fmt.Errorf(
				"derivation index %d already used by vault %s",
				v.DerivationIndex, other,
			)
		}
		indexes[v.DerivationIndex] = v.Hash()
		added = append(added, *copyVault(v))
	}

	for i := range added {
		v := added[i]
		r.store.vaults[v.Hash()] = &v
	}

	if len(added) > 0 {
		go r.publishEvent(domain.VaultEvent{
			EventType: domain.VaultAdded,
			Vaults:    added,
		})
	}
	return len(added), nil
}

func (r *vaultRepository) publishEvent(event domain.VaultEvent) {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	if r.closed {
		return
	}
	r.chEvents <- event
	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *vaultRepository) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}

func copyVault(v *domain.Vault) *domain.Vault {
	cpy := *v
	if v.RevocationTxs != nil {
		txs := *v.RevocationTxs
		txs.CancelTx = append([]string{}, v.RevocationTxs.CancelTx...)
		cpy.RevocationTxs = &txs
	}
	return &cpy
}
