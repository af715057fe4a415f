package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	appconfig "github.com/vulpemventures/vault-cosigner/internal/app-config"
	"github.com/vulpemventures/vault-cosigner/internal/config"
	"github.com/vulpemventures/vault-cosigner/internal/interfaces"
	"github.com/vulpemventures/vault-cosigner/internal/interfaces/simulator"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Build info.
	version string
	commit  string
	date    string

	// Config from env vars.
	logLevel  = config.GetInt(config.LogLevelKey)
	logToFile = config.GetBool(config.LogFileKey)
	datadir   = config.GetDatadir()
	network   = config.GetNetwork()
	port      = config.GetInt(config.SimulatorPortKey)
	xprvs     = config.GetStringSlice(config.SimulatorXprvsKey)
	mnemonic  = config.GetString(config.SimulatorMnemonicKey)
	noBatch   = config.GetBool(config.SimulatorNoBatchKey)
	logDir    = filepath.Join(datadir, config.LogLocation)

	descriptors = appconfig.DescriptorsConfig{
		Deposit:          config.GetString(config.DepositDescriptorKey),
		Unvault:          config.GetString(config.UnvaultDescriptorKey),
		Cpfp:             config.GetString(config.CpfpDescriptorKey),
		EmergencyAddress: config.GetString(config.EmergencyAddressKey),
	}
)

func main() {
	log.SetLevel(log.Level(logLevel))
	if logToFile {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "dummysigner.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}))
	}
	log.Debugf("dummysigner version %s, commit %s, date %s", version, commit, date)

	keys, err := signingKeys(xprvs, mnemonic, network)
	if err != nil {
		log.WithError(err).Fatal("simulator: invalid signing keys")
	}
	for _, key := range keys {
		log.Infof("simulator: signing with key %08x", cosigner.Fingerprint(key))
	}

	vaultDescriptors, err := descriptors.Parse(network)
	if err != nil {
		log.WithError(err).Fatal("simulator: invalid vault descriptors")
	}
	if !vaultDescriptors.CanSecure() && !vaultDescriptors.CanDelegate() {
		log.Warn("simulator: missing vault descriptors, batch requests will be rejected")
	}

	serviceCfg := simulator.ServiceConfig{
		Port:        port,
		Keys:        keys,
		Descriptors: vaultDescriptors,
		NoBatch:     noBatch,
	}
	serviceManager, err := interfaces.NewSimulatorServiceManager(serviceCfg)
	if err != nil {
		log.WithError(err).Fatal("service: error while initializing")
	}
	defer func() {
		serviceManager.Service.Stop()
	}()

	if err := serviceManager.Service.Start(); err != nil {
		log.WithError(err).Fatal("service: error while starting")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
}

// signingKeys returns the given extended private keys or, if none, the
// master key of the given mnemonic.
func signingKeys(
	xprvs []string, mnemonic string, net *chaincfg.Params,
) ([]*hdkeychain.ExtendedKey, error) {
	if len(xprvs) > 0 {
		keys := make([]*hdkeychain.ExtendedKey, 0, len(xprvs))
		for i, xprv := range xprvs {
			key, err := hdkeychain.NewKeyFromString(xprv)
			if err != nil {
				return nil, fmt.Errorf("key %d: %s", i, err)
			}
			if !key.IsPrivate() {
				return nil, fmt.Errorf("key %d: must be an extended private key", i)
			}
			keys = append(keys, key)
		}
		return keys, nil
	}

	if len(mnemonic) <= 0 {
		return nil, fmt.Errorf("either xprvs or mnemonic must be defined")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	key, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, err
	}
	return []*hdkeychain.ExtendedKey{key}, nil
}
