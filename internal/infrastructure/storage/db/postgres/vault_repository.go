package postgresdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

const (
	//uniqueViolation is a postgres error code for unique constraint violation
	uniqueViolation = "23505"

	vaultColumns = "tx_id, v_out, amount, derivation_index, status, " +
		"revocation_txs, unvault_tx"

	insertVaultQuery = "INSERT INTO vault (tx_id, v_out, amount, " +
		"derivation_index, status) VALUES ($1, $2, $3, $4, $5) " +
		"ON CONFLICT (tx_id, v_out) DO NOTHING"
	selectVaultQuery = "SELECT " + vaultColumns + " FROM vault " +
		"WHERE tx_id = $1 AND v_out = $2"
	selectVaultForUpdateQuery = selectVaultQuery + " FOR UPDATE"
	selectAllVaultsQuery      = "SELECT " + vaultColumns + " FROM vault " +
		"ORDER BY derivation_index"
	selectVaultsByStatusQuery = "SELECT " + vaultColumns + " FROM vault " +
		"WHERE status = ANY($1) ORDER BY derivation_index"
	updateVaultQuery = "UPDATE vault SET status = $3, revocation_txs = $4, " +
		"unvault_tx = $5 WHERE tx_id = $1 AND v_out = $2"
	resetVaultsQuery = "DELETE FROM vault"
)

type vaultRepositoryPg struct {
	pgxPool          *pgxpool.Pool
	chLock           *sync.Mutex
	chEvents         chan domain.VaultEvent
	externalChEvents chan domain.VaultEvent
	closed           bool

	log func(format string, a ...interface{})
}

func NewVaultRepositoryPgImpl(pgxPool *pgxpool.Pool) domain.VaultRepository {
	return newVaultRepositoryPgImpl(pgxPool)
}

func newVaultRepositoryPgImpl(pgxPool *pgxpool.Pool) *vaultRepositoryPg {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("vault repository: %s", format)
		log.Debugf(format, a...)
	}
	return &vaultRepositoryPg{
		pgxPool:          pgxPool,
		chLock:           &sync.Mutex{},
		chEvents:         make(chan domain.VaultEvent),
		externalChEvents: make(chan domain.VaultEvent),
		log:              logFn,
	}
}

func (r *vaultRepositoryPg) AddVaults(
	ctx context.Context, vaults []*domain.Vault,
) (int, error) {
	tx, err := r.pgxPool.Begin(ctx)
	if err != nil {
		return -1, err
	}
	defer tx.Rollback(ctx)

	added := make([]domain.Vault, 0, len(vaults))
	for _, v := range vaults {
		res, err := tx.Exec(
			ctx, insertVaultQuery, v.TxID, int32(v.VOut), int64(v.Amount),
			int64(v.DerivationIndex), int32(v.Status),
		)
		if err != nil {
			if pqErr, ok := err.(*pgconn.PgError); pqErr != nil && ok && pqErr.Code == uniqueViolation {
				return -1, fmt.Errorf(
					"derivation index %d already used by another vault",
					v.DerivationIndex,
				)
			}
			return -1, err
		}
		if res.RowsAffected() > 0 {
			added = append(added, *v)
		}
	}

	if err := tx.Commit(ctx); err != nil {
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

func (r *vaultRepositoryPg) GetVault(
	ctx context.Context, outpoint domain.Outpoint,
) (*domain.Vault, error) {
	return scanVault(
		r.pgxPool.QueryRow(ctx, selectVaultQuery, outpoint.TxID, int32(outpoint.VOut)),
	)
}

func (r *vaultRepositoryPg) ListVaults(
	ctx context.Context, statuses ...domain.VaultStatus,
) ([]*domain.Vault, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) <= 0 {
		rows, err = r.pgxPool.Query(ctx, selectAllVaultsQuery)
	} else {
		values := make([]int32, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, int32(status))
		}
		rows, err = r.pgxPool.Query(ctx, selectVaultsByStatusQuery, values)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vaults := make([]*domain.Vault, 0)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

func (r *vaultRepositoryPg) SetRevocationTxs(
	ctx context.Context, outpoint domain.Outpoint,
	txs vault.SerializedRevocationTxs,
) error {
	return r.updateVault(ctx, outpoint, domain.VaultSecured, func(v *domain.Vault) error {
		v.Secure(txs)
		return nil
	})
}

func (r *vaultRepositoryPg) GetRevocationTxs(
	ctx context.Context, outpoint domain.Outpoint,
) (*vault.SerializedRevocationTxs, error) {
	v, err := r.GetVault(ctx, outpoint)
	if err != nil {
		return nil, err
	}
	return v.RevocationTxs, nil
}

func (r *vaultRepositoryPg) SetUnvaultTx(
	ctx context.Context, outpoint domain.Outpoint, unvaultTx string,
) error {
	return r.updateVault(ctx, outpoint, domain.VaultActivated, func(v *domain.Vault) error {
		return v.Activate(unvaultTx)
	})
}

func (r *vaultRepositoryPg) GetUnvaultTx(
	ctx context.Context, outpoint domain.Outpoint,
) (string, error) {
	v, err := r.GetVault(ctx, outpoint)
	if err != nil {
		return "", err
	}
	return v.UnvaultTx, nil
}

func (r *vaultRepositoryPg) GetEventChannel() chan domain.VaultEvent {
	return r.externalChEvents
}

func (r *vaultRepositoryPg) updateVault(
	ctx context.Context, outpoint domain.Outpoint,
	eventType domain.VaultEventType, updateFn func(v *domain.Vault) error,
) error {
	tx, err := r.pgxPool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	v, err := scanVault(tx.QueryRow(
		ctx, selectVaultForUpdateQuery, outpoint.TxID, int32(outpoint.VOut),
	))
	if err != nil {
		return err
	}
	if err := updateFn(v); err != nil {
		return err
	}

	var revocationTxs *string
	if v.RevocationTxs != nil {
		buf, err := json.Marshal(v.RevocationTxs)
		if err != nil {
			return err
		}
		str := string(buf)
		revocationTxs = &str
	}
	if _, err := tx.Exec(
		ctx, updateVaultQuery, v.TxID, int32(v.VOut), int32(v.Status),
		revocationTxs, v.UnvaultTx,
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	go r.publishEvent(domain.VaultEvent{
		EventType: eventType,
		Vaults:    []domain.Vault{*v},
	})
	return nil
}

func (r *vaultRepositoryPg) publishEvent(event domain.VaultEvent) {
	r.chLock.Lock()
	defer r.chLock.Unlock()

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

func (r *vaultRepositoryPg) reset(ctx context.Context) error {
	_, err := r.pgxPool.Exec(ctx, resetVaultsQuery)
	return err
}

func (r *vaultRepositoryPg) close() {
	r.chLock.Lock()
	defer r.chLock.Unlock()

	r.closed = true
	close(r.chEvents)
	close(r.externalChEvents)
}

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var (
		txid          string
		vout, status  int32
		amount, index int64
		revocationTxs []byte
		unvaultTx     string
	)
	if err := row.Scan(
		&txid, &vout, &amount, &index, &status, &revocationTxs, &unvaultTx,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVaultNotFound
		}
		return nil, err
	}

	v := &domain.Vault{
		Outpoint:        domain.Outpoint{TxID: txid, VOut: uint32(vout)},
		Amount:          uint64(amount),
		DerivationIndex: uint32(index),
		Status:          domain.VaultStatus(status),
		UnvaultTx:       unvaultTx,
	}
	if len(revocationTxs) > 0 {
		var txs vault.SerializedRevocationTxs
		if err := json.Unmarshal(revocationTxs, &txs); err != nil {
			return nil, fmt.Errorf("invalid stored revocation txs: %s", err)
		}
		v.RevocationTxs = &txs
	}
	return v, nil
}
