package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
)

var (
	statuses []string

	vaultsAddCmd = &cobra.Command{
		Use:   "add <txid:vout> <amount> <derivation-index>",
		Short: "add a vault",
		Long: "this command lets you add a vault identified by the outpoint " +
			"funding it, its amount in satoshis and the index its descriptors " +
			"are derived at",
		Args: cobra.ExactArgs(3),
		RunE: vaultsAdd,
	}
	vaultsListCmd = &cobra.Command{
		Use:   "list",
		Short: "list vaults",
		Long: "this command returns the list of vaults ordered by derivation " +
			"index, optionally filtered by status",
		RunE: vaultsList,
	}
	vaultsCmd = &cobra.Command{
		Use:   "vaults",
		Short: "manage the vaults",
		Long:  "this command lets you add or list the vaults to co-sign",
	}
)

func init() {
	vaultsListCmd.Flags().StringSliceVar(
		&statuses, "status", nil,
		"comma separated list of statuses to filter by (funded, secured, active)",
	)
	vaultsCmd.AddCommand(vaultsAddCmd, vaultsListCmd)
}

func vaultsAdd(_ *cobra.Command, args []string) error {
	outpoint, err := domain.ParseOutpoint(args[0])
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount '%s', must be in satoshis", args[1])
	}
	index, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid derivation index '%s'", args[2])
	}

	vault, err := domain.NewVault(outpoint, amount, uint32(index))
	if err != nil {
		return err
	}

	repo := appCfg.RepoManager().VaultRepository()
	count, err := repo.AddVaults(context.Background(), []*domain.Vault{vault})
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("vault %s already exists", outpoint)
	}

	return printJSON(map[string]interface{}{"added": newVaultInfo(vault)})
}

func vaultsList(_ *cobra.Command, _ []string) error {
	filter := make([]domain.VaultStatus, 0, len(statuses))
	for _, s := range statuses {
		status, err := domain.ParseVaultStatus(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return err
		}
		filter = append(filter, status)
	}

	repo := appCfg.RepoManager().VaultRepository()
	vaults, err := repo.ListVaults(context.Background(), filter...)
	if err != nil {
		return err
	}

	list := make([]vaultInfo, 0, len(vaults))
	for _, v := range vaults {
		list = append(list, newVaultInfo(v))
	}
	return printJSON(map[string]interface{}{"vaults": list})
}
