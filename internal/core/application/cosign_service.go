package application

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

// CosignService is responsible for collecting the device signatures of the
// vault transactions:
//   - Secure the vaults, ie. sign their revocation txs.
//   - Delegate the vaults, ie. sign their unvault txs.
//   - Sign the revocation or unvault txs of a single vault.
//   - Sign a spend tx.
//
// Batches are signed with one exchange if the device supports it, otherwise
// one vault per drive is signed. Completed vaults are tracked by the vault
// repository, therefore a drive can be repeated safely until there are no
// more pending vaults.
type CosignService struct {
	repoManager   ports.RepoManager
	signer        ports.Signer
	descriptors   *vault.Descriptors
	probeInterval time.Duration

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewCosignService(
	repoManager ports.RepoManager, signer ports.Signer,
	descriptors *vault.Descriptors, probeInterval time.Duration,
) *CosignService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("cosign service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("cosign service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	if descriptors == nil {
		descriptors = &vault.Descriptors{}
	}
	svc := &CosignService{
		repoManager, signer, descriptors, probeInterval, logFn, warnFn,
	}
	svc.registerHandlerForVaultEvents()

	return svc
}

func (s *CosignService) Features() Features {
	return Features{
		Secure:   s.descriptors.CanSecure(),
		Delegate: s.descriptors.CanDelegate(),
	}
}

// SecureVaults drives the signing of the revocation txs of all funded vaults
// once and returns the newly secured ones.
func (s *CosignService) SecureVaults(ctx context.Context) ([]domain.Outpoint, error) {
	return s.drive(ctx, domain.BatchSecure)
}

// DelegateVaults drives the signing of the unvault txs of all secured vaults
// once and returns the newly activated ones.
func (s *CosignService) DelegateVaults(ctx context.Context) ([]domain.Outpoint, error) {
	return s.drive(ctx, domain.BatchDelegate)
}

// SecureAll repeats SecureVaults until all vaults are secured.
func (s *CosignService) SecureAll(ctx context.Context) ([]domain.Outpoint, error) {
	return s.driveAll(ctx, domain.BatchSecure)
}

// DelegateAll repeats DelegateVaults until all secured vaults are active.
func (s *CosignService) DelegateAll(ctx context.Context) ([]domain.Outpoint, error) {
	return s.driveAll(ctx, domain.BatchDelegate)
}

// SignRevocationTxs derives and signs the revocation txs of the given vault.
func (s *CosignService) SignRevocationTxs(
	ctx context.Context, outpoint domain.Outpoint,
) (*vault.RevocationTransactions, error) {
	if !s.descriptors.CanSecure() {
		return nil, ErrFeatureUnavailable
	}
	v, err := s.repoManager.VaultRepository().GetVault(ctx, outpoint)
	if err != nil {
		return nil, err
	}
	txs, err := s.deriveRevocationTxs(v)
	if err != nil {
		return nil, err
	}

	signed, err := s.runSession(ctx, NewRevocationTarget(txs))
	if err != nil {
		return nil, err
	}
	if err := s.storeRevocationTxs(ctx, v, signed.RevocationTxs); err != nil {
		return nil, err
	}
	return signed.RevocationTxs, nil
}

// SignUnvaultTx derives and signs the unvault tx of the given secured vault.
func (s *CosignService) SignUnvaultTx(
	ctx context.Context, outpoint domain.Outpoint,
) (*psbt.Packet, error) {
	if !s.descriptors.CanDelegate() {
		return nil, ErrFeatureUnavailable
	}
	v, err := s.repoManager.VaultRepository().GetVault(ctx, outpoint)
	if err != nil {
		return nil, err
	}
	if !v.IsSecured() {
		return nil, domain.ErrVaultNotSecured
	}
	tx, err := s.deriveUnvaultTx(v)
	if err != nil {
		return nil, err
	}

	signed, err := s.runSession(ctx, NewUnvaultTarget(tx))
	if err != nil {
		return nil, err
	}
	if err := s.storeUnvaultTx(ctx, v, signed.Tx); err != nil {
		return nil, err
	}
	return signed.Tx, nil
}

// SignSpendTx signs the given spend tx. Spend txs are not derived locally,
// therefore not stored.
func (s *CosignService) SignSpendTx(
	ctx context.Context, tx *psbt.Packet,
) (*psbt.Packet, error) {
	signed, err := s.runSession(ctx, NewSpendTarget(tx))
	if err != nil {
		return nil, err
	}
	return signed.Tx, nil
}

func (s *CosignService) runSession(
	ctx context.Context, target SigningTarget,
) (SigningTarget, error) {
	session, err := NewSigningSession(s.signer, target, s.probeInterval)
	if err != nil {
		return SigningTarget{}, err
	}
	return session.Run(ctx)
}

func (s *CosignService) driveAll(
	ctx context.Context, target domain.BatchTarget,
) ([]domain.Outpoint, error) {
	completed := make([]domain.Outpoint, 0)
	seen := make(map[domain.Outpoint]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		outpoints, err := s.drive(ctx, target)
		for _, outpoint := range outpoints {
			if _, ok := seen[outpoint]; ok {
				continue
			}
			seen[outpoint] = struct{}{}
			completed = append(completed, outpoint)
		}
		if err != nil {
			return completed, err
		}
		if len(outpoints) <= 0 {
			return completed, nil
		}
	}
}

// drive makes one attempt to sign all pending vaults for the given target.
// If the device doesn't support batching, only the first pending vault is
// signed.
func (s *CosignService) drive(
	ctx context.Context, target domain.BatchTarget,
) ([]domain.Outpoint, error) {
	if !s.isAvailable(target) {
		return nil, ErrFeatureUnavailable
	}

	batch, err := s.getBatch(ctx, target)
	if err != nil {
		return nil, err
	}
	pending := batch.Pending()
	if len(pending) <= 0 {
		return nil, nil
	}

	if !s.signer.IsConnected() {
		if err := s.signer.Connect(ctx); err != nil {
			return nil, err
		}
	}

	s.log("signing %s batch of %d vault(s)", target, len(pending))
	var signFn func(context.Context, *domain.Batch) error
	switch target {
	case domain.BatchDelegate:
		signFn = s.delegateBatch
	default:
		signFn = s.secureBatch
	}
	err = signFn(ctx, batch)

	completed := make([]domain.Outpoint, 0)
	for _, v := range pending {
		for _, outpoint := range batch.Completed() {
			if outpoint == v.Outpoint {
				completed = append(completed, outpoint)
			}
		}
	}
	if err != nil {
		s.warn(err, "failed to sign %s batch", target)
		return completed, err
	}
	s.log("%d vault(s) completed for %s batch", len(completed), target)
	return completed, nil
}

func (s *CosignService) secureBatch(ctx context.Context, batch *domain.Batch) error {
	pending := batch.Pending()
	deposits, err := getDeposits(pending)
	if err != nil {
		return err
	}

	res, err := s.signer.SecureBatch(ctx, deposits)
	if err != nil {
		return err
	}

	if res.Status == ports.BatchUnsupported {
		s.log("batching not supported by device, signing vault %s alone", pending[0].Outpoint)
		v := pending[0]
		txs, err := s.deriveRevocationTxs(v)
		if err != nil {
			return err
		}
		signed, err := s.signer.SignRevocationTxs(ctx, txs)
		if err != nil {
			return err
		}
		if err := checkRevocationTxs(txs, signed); err != nil {
			return err
		}
		return s.completeSecure(ctx, batch, v, signed)
	}

	if len(res.Txs) != len(pending) {
		return ErrBatchSizeMismatch
	}
	for i, v := range pending {
		txs, err := s.deriveRevocationTxs(v)
		if err != nil {
			return err
		}
		if err := checkRevocationTxs(txs, res.Txs[i]); err != nil {
			return fmt.Errorf("vault %s: %w", v.Outpoint, err)
		}
	}
	for i, v := range pending {
		if err := s.completeSecure(ctx, batch, v, res.Txs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CosignService) delegateBatch(ctx context.Context, batch *domain.Batch) error {
	pending := batch.Pending()
	deposits, err := getDeposits(pending)
	if err != nil {
		return err
	}

	res, err := s.signer.DelegateBatch(ctx, deposits)
	if err != nil {
		return err
	}

	if res.Status == ports.BatchUnsupported {
		s.log("batching not supported by device, signing vault %s alone", pending[0].Outpoint)
		v := pending[0]
		tx, err := s.deriveUnvaultTx(v)
		if err != nil {
			return err
		}
		signed, err := s.signer.SignUnvaultTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkTx(tx, signed); err != nil {
			return err
		}
		return s.completeDelegate(ctx, batch, v, signed)
	}

	if len(res.Txs) != len(pending) {
		return ErrBatchSizeMismatch
	}
	for i, v := range pending {
		tx, err := s.deriveUnvaultTx(v)
		if err != nil {
			return err
		}
		if err := checkTx(tx, res.Txs[i]); err != nil {
			return fmt.Errorf("vault %s: %w", v.Outpoint, err)
		}
	}
	for i, v := range pending {
		if err := s.completeDelegate(ctx, batch, v, res.Txs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CosignService) completeSecure(
	ctx context.Context, batch *domain.Batch, v *domain.Vault,
	txs *vault.RevocationTransactions,
) error {
	if err := s.storeRevocationTxs(ctx, v, txs); err != nil {
		return err
	}
	_, err := batch.MarkCompleted(v.Outpoint)
	return err
}

func (s *CosignService) completeDelegate(
	ctx context.Context, batch *domain.Batch, v *domain.Vault, tx *psbt.Packet,
) error {
	if err := s.storeUnvaultTx(ctx, v, tx); err != nil {
		return err
	}
	_, err := batch.MarkCompleted(v.Outpoint)
	return err
}

func (s *CosignService) storeRevocationTxs(
	ctx context.Context, v *domain.Vault, txs *vault.RevocationTransactions,
) error {
	serialized, err := txs.Serialize()
	if err != nil {
		return err
	}
	return s.repoManager.VaultRepository().SetRevocationTxs(
		ctx, v.Outpoint, *serialized,
	)
}

func (s *CosignService) storeUnvaultTx(
	ctx context.Context, v *domain.Vault, tx *psbt.Packet,
) error {
	serialized, err := vault.EncodePsbt(tx)
	if err != nil {
		return err
	}
	return s.repoManager.VaultRepository().SetUnvaultTx(ctx, v.Outpoint, serialized)
}

// getBatch returns the batch of the vaults eligible for the target, ie.
// those already completed plus those with the pending status.
func (s *CosignService) getBatch(
	ctx context.Context, target domain.BatchTarget,
) (*domain.Batch, error) {
	vaults, err := s.repoManager.VaultRepository().ListVaults(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]*domain.Vault, 0, len(vaults))
	for _, v := range vaults {
		if v.Status >= target.PendingStatus() {
			eligible = append(eligible, v)
		}
	}
	return domain.NewBatch(target, eligible), nil
}

func (s *CosignService) isAvailable(target domain.BatchTarget) bool {
	if target == domain.BatchDelegate {
		return s.descriptors.CanDelegate()
	}
	return s.descriptors.CanSecure()
}

func (s *CosignService) deriveRevocationTxs(
	v *domain.Vault,
) (*vault.RevocationTransactions, error) {
	deposit, err := v.Deposit()
	if err != nil {
		return nil, err
	}
	return vault.DeriveRevocationTxs(s.descriptors, deposit)
}

func (s *CosignService) deriveUnvaultTx(v *domain.Vault) (*psbt.Packet, error) {
	deposit, err := v.Deposit()
	if err != nil {
		return nil, err
	}
	return vault.DeriveUnvaultTx(s.descriptors, deposit)
}

func (s *CosignService) registerHandlerForVaultEvents() {
	s.repoManager.RegisterHandlerForVaultEvent(
		domain.VaultSecured, func(event domain.VaultEvent) {
			s.log("secured vault(s) %s", Vaults(event.Vaults).Outpoints())
		},
	)
	s.repoManager.RegisterHandlerForVaultEvent(
		domain.VaultActivated, func(event domain.VaultEvent) {
			s.log("activated vault(s) %s", Vaults(event.Vaults).Outpoints())
		},
	)
}

func getDeposits(vaults []*domain.Vault) ([]vault.Deposit, error) {
	deposits := make([]vault.Deposit, 0, len(vaults))
	for _, v := range vaults {
		deposit, err := v.Deposit()
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, deposit)
	}
	return deposits, nil
}
