package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
	"golang.org/x/sync/errgroup"
)

const btcPrecision = 8

var colorRed = string("\033[31m")

type vaultInfo struct {
	Outpoint        string `json:"outpoint"`
	Amount          string `json:"amount"`
	DerivationIndex uint32 `json:"derivation_index"`
	Status          string `json:"status"`
}

func newVaultInfo(v *domain.Vault) vaultInfo {
	return vaultInfo{
		Outpoint:        v.Outpoint.String(),
		Amount:          formatBTC(v.Amount),
		DerivationIndex: v.DerivationIndex,
		Status:          v.Status.String(),
	}
}

// formatBTC renders an amount in satoshis as BTC.
func formatBTC(sats uint64) string {
	return decimal.New(int64(sats), -btcPrecision).StringFixed(btcPrecision)
}

// runWithSignals runs the given function until it returns or the process
// receives an interrupt, in which case its context is canceled.
func runWithSignals(fn func(ctx context.Context) error) error {
	group, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group.Go(func() error {
		defer cancel()
		return fn(ctx)
	})
	group.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			log.Debugf("received %s, aborting", sig)
			return fmt.Errorf("interrupted")
		case <-ctx.Done():
			return nil
		}
	})

	return group.Wait()
}

func printJSON(v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "   ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %s", err)
	}
	fmt.Println(string(buf))
	return nil
}

func printErr(err error) {
	msg := fmt.Sprintf("%s%s", colorRed, capitalize(err.Error()))
	fmt.Fprintln(os.Stderr, msg)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	ss := strings.ToUpper(s[0:1])
	ss += s[1:]
	return ss
}

func formatVersion() string {
	return fmt.Sprintf(
		"\nVersion: %s\nCommit: %s\nDate: %s", version, commit, date,
	)
}
