package dbbadger

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

type vaultRepository struct {
	store            *badgerhold.Store
	chEvents         chan domain.VaultEvent
	externalChEvents chan domain.VaultEvent
	lock             *sync.Mutex
	// serializes read-modify-write operations.
	writeLock *sync.Mutex
	closed    bool

	log func(format string, a ...interface{})
}

func NewVaultRepository(store *badgerhold.Store) domain.VaultRepository {
	return newVaultRepository(store)
}

func newVaultRepository(store *badgerhold.Store) *vaultRepository {
	chEvents := make(chan domain.VaultEvent)
	externalChEvents := make(chan domain.VaultEvent)
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("vault repository: %s", format)
		log.Debugf(format, a...)
	}
	return &vaultRepository{
		store:            store,
		chEvents:         chEvents,
		externalChEvents: externalChEvents,
		lock:             &sync.Mutex{},
		writeLock:        &sync.Mutex{},
		log:              logFn,
	}
}

func (r *vaultRepository) AddVaults(
	ctx context.Context, vaults []*domain.Vault,
) (int, error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	// The whole batch is stored in a single txn so that a conflicting
	// derivation index leaves the store untouched.
	added := make([]domain.Vault, 0, len(vaults))
	if err := r.store.Badger().Update(func(tx *badger.Txn) error {
		for _, v := range vaults {
			done, err := r.insertVault(tx, v)
			if err != nil {
				return err
			}
			if done {
				added = append(added, *v)
			}
		}
		return nil
	}); err != nil {
		return -1, err
	}

	if len(added) > 0 {
		go r.publishEvent(domain.VaultEvent{
			EventType: domain.VaultAdded,
			Vaults:    added,
		})
	}
	return len(added), nil
}

func (r *vaultRepository) GetVault(
	_ context.Context, outpoint domain.Outpoint,
) (*domain.Vault, error) {
	return r.getVault(outpoint)
}

func (r *vaultRepository) ListVaults(
	_ context.Context, statuses ...domain.VaultStatus,
) ([]*domain.Vault, error) {
	query := &badgerhold.Query{}
	if len(statuses) > 0 {
		values := make([]interface{}, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, status)
		}
		query = badgerhold.Where("Status").In(values...)
	}
	return r.findVaults(query.SortBy("DerivationIndex"))
}

func (r *vaultRepository) SetRevocationTxs(
	_ context.Context, outpoint domain.Outpoint,
	txs vault.SerializedRevocationTxs,
) error {
	return r.updateVault(outpoint, domain.VaultSecured, func(v *domain.Vault) error {
		v.Secure(txs)
		return nil
	})
}

func (r *vaultRepository) GetRevocationTxs(
	_ context.Context, outpoint domain.Outpoint,
) (*vault.SerializedRevocationTxs, error) {
	v, err := r.getVault(outpoint)
	if err != nil {
		return nil, err
	}
	return v.RevocationTxs, nil
}

func (r *vaultRepository) SetUnvaultTx(
	_ context.Context, outpoint domain.Outpoint, tx string,
) error {
	return r.updateVault(outpoint, domain.VaultActivated, func(v *domain.Vault) error {
		return v.Activate(tx)
	})
}

func (r *vaultRepository) GetUnvaultTx(
	_ context.Context, outpoint domain.Outpoint,
) (string, error) {
	v, err := r.getVault(outpoint)
	if err != nil {
		return "", err
	}
	return v.UnvaultTx, nil
}

func (r *vaultRepository) GetEventChannel() chan domain.VaultEvent {
	return r.externalChEvents
}

func (r *vaultRepository) getVault(outpoint domain.Outpoint) (*domain.Vault, error) {
	var v domain.Vault
	if err := r.store.Get(outpoint.Hash(), &v); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrVaultNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *vaultRepository) findVaults(query *badgerhold.Query) ([]*domain.Vault, error) {
	var list []domain.Vault
	if err := r.store.Find(&list, query); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	vaults := make([]*domain.Vault, 0, len(list))
	for i := range list {
		vaults = append(vaults, &list[i])
	}
	return vaults, nil
}

func (r *vaultRepository) insertVault(
	tx *badger.Txn, v *domain.Vault,
) (bool, error) {
	var stored domain.Vault
	err := r.store.TxGet(tx, v.Hash(), &stored)
	if err == nil {
		return false, nil
	}
	if err != badgerhold.ErrNotFound {
		return false, err
	}

	var others []domain.Vault
	query := badgerhold.Where("DerivationIndex").Eq(v.DerivationIndex)
	if err := r.store.TxFind(tx, &others, query); err != nil &&
		err != badgerhold.ErrNotFound {
		return false, err
	}
	if len(others) > 0 {
		return false, fmt.Errorf(
			"derivation index %d already used by vault %s",
			v.DerivationIndex, others[0].Outpoint,
		)
	}

	if err := r.store.TxInsert(tx, v.Hash(), *v); err != nil {
		if err == badgerhold.ErrKeyExists {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *vaultRepository) updateVault(
	outpoint domain.Outpoint, eventType domain.VaultEventType,
	updateFn func(v *domain.Vault) error,
) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	v, err := r.getVault(outpoint)
	if err != nil {
		return err
	}
	if err := updateFn(v); err != nil {
		return err
	}
	if err := r.store.Update(v.Hash(), *v); err != nil {
		return err
	}

	go r.publishEvent(domain.VaultEvent{
		EventType: eventType,
		Vaults:    []domain.Vault{*v},
	})
	return nil
}

func (r *vaultRepository) publishEvent(event domain.VaultEvent) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return
	}
	r.log("publish event %s", event.EventType)
	r.chEvents <- event

	// send over channel without blocking in case nobody is listening.
	select {
	case r.externalChEvents <- event:
	default:
	}
}

func (r *vaultRepository) close() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.closed = true
	r.store.Close()
	close(r.chEvents)
	close(r.externalChEvents)
}
