package inmemory

import (
	"sync"
	"time"

	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
)

type repoManager struct {
	vaultRepository *vaultRepository

	vaultEventHandlers *handlerMap
}

func NewRepoManager() ports.RepoManager {
	vaultRepo := newVaultRepository()

	rm := &repoManager{
		vaultRepository:    vaultRepo,
		vaultEventHandlers: newHandlerMap(),
	}

	go rm.listenToVaultEvents()

	return rm
}

func (rm *repoManager) VaultRepository() domain.VaultRepository {
	return rm.vaultRepository
}

func (rm *repoManager) RegisterHandlerForVaultEvent(
	eventType domain.VaultEventType, handler ports.VaultEventHandler,
) {
	rm.vaultEventHandlers.set(int(eventType), handler)
}

func (rm *repoManager) listenToVaultEvents() {
	for event := range rm.vaultRepository.chEvents {
		time.Sleep(time.Millisecond)

		if handlers, ok := rm.vaultEventHandlers.get(int(event.EventType)); ok {
			for i := range handlers {
				handler := handlers[i]
				go handler.(ports.VaultEventHandler)(event)
			}
		}
	}
}

func (rm *repoManager) Close() {
	rm.vaultRepository.close()
}

// handlerMap is a util type to prevent race conditions when registering
// or retrieving handlers for events.
type handlerMap struct {
	handlersByEventType map[int][]interface{}
	lock                *sync.RWMutex
}

func newHandlerMap() *handlerMap {
	return &handlerMap{
		handlersByEventType: make(map[int][]interface{}),
		lock:                &sync.RWMutex{},
	}
}

func (m *handlerMap) set(key int, val interface{}) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlersByEventType[key] = append(m.handlersByEventType[key], val)
}

func (m *handlerMap) get(key int) ([]interface{}, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	val, ok := m.handlersByEventType[key]
	return val, ok
}
