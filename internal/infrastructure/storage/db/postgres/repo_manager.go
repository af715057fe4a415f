package postgresdb

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
)

const (
	postgresDriver             = "postgres"
	migrationSource            = "iofs"
	insecureDataSourceTemplate = "postgresql://%s:%s@%s:%d/%s?sslmode=disable"
)

//go:embed migration/*.sql
var migrations embed.FS

type repoManager struct {
	pgxPool *pgxpool.Pool

	vaultRepository    *vaultRepositoryPg
	vaultEventHandlers *handlerMap
}

// NewRepoManager is the factory for creating a new postgres implementation
// of the ports.RepoManager interface.
// It takes care of connecting to the db and of migrating it to the latest
// version of the schema.
func NewRepoManager(dbConfig DbConfig) (ports.RepoManager, error) {
	if err := dbConfig.validate(); err != nil {
		return nil, err
	}
	dataSource := insecureDataSourceStr(dbConfig)

	pgxPool, err := connect(dataSource)
	if err != nil {
		return nil, err
	}

	if err = migrateDb(dataSource); err != nil {
		pgxPool.Close()
		return nil, err
	}

	rm := &repoManager{
		pgxPool:            pgxPool,
		vaultRepository:    newVaultRepositoryPgImpl(pgxPool),
		vaultEventHandlers: newHandlerMap(),
	}

	go rm.listenToVaultEvents()

	return rm, nil
}

type DbConfig struct {
	DbUser     string
	DbPassword string
	DbHost     string
	DbPort     int
	DbName     string
}

func (c DbConfig) validate() error {
	if len(c.DbUser) <= 0 {
		return fmt.Errorf("missing db user")
	}
	if len(c.DbHost) <= 0 {
		return fmt.Errorf("missing db host")
	}
	if c.DbPort <= 0 {
		return fmt.Errorf("invalid db port")
	}
	if len(c.DbName) <= 0 {
		return fmt.Errorf("missing db name")
	}
	return nil
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
	rm.pgxPool.Close()
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

	handlers, ok := m.handlersByEventType[key]
	return handlers, ok
}

func connect(dataSource string) (*pgxpool.Pool, error) {
	return pgxpool.Connect(context.Background(), dataSource)
}

func migrateDb(dataSource string) error {
	src, err := iofs.New(migrations, "migration")
	if err != nil {
		return err
	}

	pg := postgres.Postgres{}
	d, err := pg.Open(dataSource)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance(migrationSource, src, postgresDriver, d)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

// insecureDataSourceStr converts database configuration params to connection string
func insecureDataSourceStr(dbConfig DbConfig) string {
	return fmt.Sprintf(
		insecureDataSourceTemplate,
		dbConfig.DbUser,
		dbConfig.DbPassword,
		dbConfig.DbHost,
		dbConfig.DbPort,
		dbConfig.DbName,
	)
}
