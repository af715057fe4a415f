package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

var (
	all bool

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "check the signing device is reachable",
		Long: "this command connects to the signing device and sends it a " +
			"liveness probe",
		RunE: ping,
	}
	featuresCmd = &cobra.Command{
		Use:   "features",
		Short: "list the available signing verbs",
		Long: "this command tells whether vaults can be secured or delegated " +
			"given the configured descriptors and emergency address",
		RunE: features,
	}
	secureCmd = &cobra.Command{
		Use:   "secure",
		Short: "secure the funded vaults",
		Long: "this command collects the signatures of the revocation " +
			"transactions of the funded vaults. If the device doesn't support " +
			"batches, only one vault is secured, unless --all is given",
		RunE: secure,
	}
	delegateCmd = &cobra.Command{
		Use:   "delegate",
		Short: "delegate the secured vaults",
		Long: "this command collects the signatures of the unvault " +
			"transactions of the secured vaults. If the device doesn't support " +
			"batches, only one vault is delegated, unless --all is given",
		RunE: delegate,
	}
	revocationCmd = &cobra.Command{
		Use:   "revocation <txid:vout>",
		Short: "sign the revocation transactions of a vault",
		Long: "this command derives the revocation transactions of the given " +
			"vault and collects the device signatures",
		Args: cobra.ExactArgs(1),
		RunE: signRevocation,
	}
	unvaultCmd = &cobra.Command{
		Use:   "unvault <txid:vout>",
		Short: "sign the unvault transaction of a vault",
		Long: "this command derives the unvault transaction of the given " +
			"secured vault and collects the device signatures",
		Args: cobra.ExactArgs(1),
		RunE: signUnvault,
	}
	spendCmd = &cobra.Command{
		Use:   "spend <psbt>",
		Short: "sign a spend transaction",
		Long: "this command collects the device signatures of the given " +
			"base64 encoded spend psbt",
		Args: cobra.ExactArgs(1),
		RunE: signSpend,
	}
)

func init() {
	secureCmd.Flags().BoolVar(
		&all, "all", false, "repeat until all funded vaults are secured",
	)
	delegateCmd.Flags().BoolVar(
		&all, "all", false, "repeat until all secured vaults are delegated",
	)
}

func ping(_ *cobra.Command, _ []string) error {
	channel := appCfg.SignerChannel()

	if err := runWithSignals(func(ctx context.Context) error {
		if err := channel.Connect(ctx); err != nil {
			return err
		}
		return channel.Ping(ctx)
	}); err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"device":    deviceType,
		"connected": channel.IsConnected(),
	})
}

func features(_ *cobra.Command, _ []string) error {
	features := appCfg.CosignService().Features()
	return printJSON(map[string]interface{}{
		"secure":   features.Secure,
		"delegate": features.Delegate,
	})
}

func secure(_ *cobra.Command, _ []string) error {
	svc := appCfg.CosignService()
	driveFn := svc.SecureVaults
	if all {
		driveFn = svc.SecureAll
	}
	return drive(driveFn, "secured")
}

func delegate(_ *cobra.Command, _ []string) error {
	svc := appCfg.CosignService()
	driveFn := svc.DelegateVaults
	if all {
		driveFn = svc.DelegateAll
	}
	return drive(driveFn, "delegated")
}

func drive(
	driveFn func(context.Context) ([]domain.Outpoint, error), key string,
) error {
	var completed []domain.Outpoint
	if err := runWithSignals(func(ctx context.Context) (err error) {
		completed, err = driveFn(ctx)
		return
	}); err != nil {
		return err
	}

	outpoints := make([]string, 0, len(completed))
	for _, outpoint := range completed {
		outpoints = append(outpoints, outpoint.String())
	}

	pending, err := countPending(key)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		key:       outpoints,
		"pending": pending,
	})
}

func signRevocation(_ *cobra.Command, args []string) error {
	outpoint, err := domain.ParseOutpoint(args[0])
	if err != nil {
		return err
	}

	var txs *vault.RevocationTransactions
	if err := runWithSignals(func(ctx context.Context) (err error) {
		txs, err = appCfg.CosignService().SignRevocationTxs(ctx, outpoint)
		return
	}); err != nil {
		return err
	}

	serialized, err := txs.Serialize()
	if err != nil {
		return err
	}
	return printJSON(serialized)
}

func signUnvault(_ *cobra.Command, args []string) error {
	outpoint, err := domain.ParseOutpoint(args[0])
	if err != nil {
		return err
	}

	var tx string
	if err := runWithSignals(func(ctx context.Context) error {
		signed, err := appCfg.CosignService().SignUnvaultTx(ctx, outpoint)
		if err != nil {
			return err
		}
		tx, err = vault.EncodePsbt(signed)
		return err
	}); err != nil {
		return err
	}

	return printJSON(map[string]interface{}{"unvault_tx": tx})
}

func signSpend(_ *cobra.Command, args []string) error {
	ptx, err := vault.DecodePsbt(args[0])
	if err != nil {
		return fmt.Errorf("invalid spend psbt: %s", err)
	}

	var tx string
	if err := runWithSignals(func(ctx context.Context) error {
		signed, err := appCfg.CosignService().SignSpendTx(ctx, ptx)
		if err != nil {
			return err
		}
		tx, err = vault.EncodePsbt(signed)
		return err
	}); err != nil {
		return err
	}

	return printJSON(map[string]interface{}{"spend_tx": tx})
}

func countPending(key string) (int, error) {
	status := domain.VaultStatusFunded
	if key == "delegated" {
		status = domain.VaultStatusSecured
	}
	vaults, err := appCfg.RepoManager().VaultRepository().ListVaults(
		context.Background(), status,
	)
	if err != nil {
		return 0, err
	}
	return len(vaults), nil
}
