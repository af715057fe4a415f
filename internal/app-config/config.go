package appconfig

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/internal/config"
	"github.com/vulpemventures/vault-cosigner/internal/core/application"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer/dummysigner"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer/specter"
	dbbadger "github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/inmemory"
	postgresdb "github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/postgres"
	"github.com/vulpemventures/vault-cosigner/pkg/descriptor"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
)

// DescriptorsConfig holds the string representation of the vault
// descriptors. Any of them can be left empty, disabling the verbs that
// depend on it.
type DescriptorsConfig struct {
	Deposit          string
	Unvault          string
	Cpfp             string
	EmergencyAddress string
}

// Parse returns the vault descriptors for the given network.
func (c DescriptorsConfig) Parse(net *chaincfg.Params) (*vault.Descriptors, error) {
	descriptors := &vault.Descriptors{}
	for _, d := range []struct {
		name string
		str  string
		dst  **descriptor.Descriptor
	}{
		{"deposit", c.Deposit, &descriptors.Deposit},
		{"unvault", c.Unvault, &descriptors.Unvault},
		{"cpfp", c.Cpfp, &descriptors.Cpfp},
	} {
		if d.str == "" {
			continue
		}
		desc, err := descriptor.Parse(d.str)
		if err != nil {
			return nil, fmt.Errorf("invalid %s descriptor: %w", d.name, err)
		}
		*d.dst = desc
	}

	if c.EmergencyAddress == "" {
		return descriptors, nil
	}
	addr, err := btcutil.DecodeAddress(c.EmergencyAddress, net)
	if err != nil {
		return nil, fmt.Errorf("invalid emergency address: %w", err)
	}
	if !addr.IsForNet(net) {
		return nil, fmt.Errorf("emergency address is not for network %s", net.Name)
	}
	descriptors.EmergencyAddress = addr
	return descriptors, nil
}

// AppConfig is the struct holding all configuration options for the cosign
// service.
// This data structure acts also as a factory of the mentioned application
// service and the portable services used by it.
// Public config args:
//   - Network - (required) The Bitcoin network (mainnet, testnet3, regtest, signet).
//   - RepoManagerType - (required) One of the supported repository manager types.
//   - RepoManagerConfig - (optional) Custom config args for the repository manager based on its type.
//   - DeviceType - (required) One of the supported signing device types.
//   - DeviceConfig - (required) The device address as string, or signer.SerialOpts for serial devices.
//   - Descriptors - (optional) The vault descriptors and emergency address.
//   - ProbeInterval - (optional) The interval between liveness probes of the device (defaults to 1s).
//   - Observer - (optional) The observer of the signer channel, ie. the metrics exporter.
type AppConfig struct {
	Version string
	Commit  string
	Date    string

	Network       *chaincfg.Params
	Descriptors   DescriptorsConfig
	ProbeInterval time.Duration

	RepoManagerType   string
	RepoManagerConfig interface{}
	DeviceType        string
	DeviceConfig      interface{}
	Observer          signer.Observer

	rm          ports.RepoManager
	connector   signer.Connector
	channel     *signer.Channel
	descriptors *vault.Descriptors
	cosignSvc   *application.CosignService
}

func (c *AppConfig) Validate() error {
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("probe interval must not be negative")
	}
	if len(c.RepoManagerType) == 0 {
		return fmt.Errorf("missing repo manager type")
	}
	if _, ok := config.SupportedDbs[c.RepoManagerType]; !ok {
		return fmt.Errorf(
			"repo manager type not supported, must be one of: %s",
			config.SupportedDbs,
		)
	}
	if len(c.DeviceType) == 0 {
		return fmt.Errorf("missing device type")
	}
	if _, ok := config.SupportedDevices[c.DeviceType]; !ok {
		return fmt.Errorf(
			"device type not supported, must be one of: %s",
			config.SupportedDevices,
		)
	}
	if _, err := c.vaultDescriptors(); err != nil {
		return err
	}
	if _, err := c.deviceConnector(); err != nil {
		return err
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) RepoManager() ports.RepoManager {
	return c.rm
}

func (c *AppConfig) SignerChannel() *signer.Channel {
	return c.signerChannel()
}

func (c *AppConfig) CosignService() *application.CosignService {
	return c.cosignService()
}

func (c *AppConfig) BuildInfo() application.BuildInfo {
	version := "dev"
	if c.Version != "" {
		version = c.Version
	}
	commit := "none"
	if c.Commit != "" {
		commit = c.Commit
	}
	date := "unknown"
	if c.Date != "" {
		date = c.Date
	}
	return application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// Close releases the signer channel and the repo manager, if any.
func (c *AppConfig) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.rm != nil {
		c.rm.Close()
	}
}

func (c *AppConfig) repoManager() (ports.RepoManager, error) {
	if c.rm != nil {
		return c.rm, nil
	}

	switch c.RepoManagerType {
	case "inmemory":
		c.rm = inmemory.NewRepoManager()
		return c.rm, nil
	case "badger":
		datadir := ""
		if c.RepoManagerConfig != nil {
			dir, ok := c.RepoManagerConfig.(string)
			if !ok {
				return nil, fmt.Errorf("invalid repo manager config type, must be string")
			}
			datadir = dir
		}
		rm, err := dbbadger.NewRepoManager(datadir, log.New())
		if err != nil {
			return nil, err
		}
		c.rm = rm
		return c.rm, nil
	case "postgres":
		dbConfig, ok := c.RepoManagerConfig.(postgresdb.DbConfig)
		if !ok {
			return nil, fmt.Errorf("invalid repo manager config type, must be postgresdb.DbConfig")
		}

		rm, err := postgresdb.NewRepoManager(dbConfig)
		if err != nil {
			return nil, err
		}

		c.rm = rm
		return c.rm, nil
	default:
		return nil, fmt.Errorf("unknown repo manager type")
	}
}

func (c *AppConfig) deviceConnector() (signer.Connector, error) {
	if c.connector != nil {
		return c.connector, nil
	}
	if c.DeviceConfig == nil {
		return nil, fmt.Errorf("missing device config args")
	}

	var driver signer.Driver
	switch c.DeviceType {
	case "dummysigner":
		driver = dummysigner.NewDevice
	case "specter":
		driver = specter.NewDevice
	default:
		return nil, fmt.Errorf("unknown device type")
	}

	var (
		connector signer.Connector
		err       error
	)
	switch args := c.DeviceConfig.(type) {
	case string:
		connector, err = signer.NewTCPConnector(args, driver)
	case signer.SerialOpts:
		if c.DeviceType != "specter" {
			return nil, fmt.Errorf("device type %s is reachable over TCP only", c.DeviceType)
		}
		connector, err = signer.NewSerialConnector(args, driver)
	default:
		return nil, fmt.Errorf(
			"invalid device config type, must be string or signer.SerialOpts",
		)
	}
	if err != nil {
		return nil, err
	}

	c.connector = connector
	return c.connector, nil
}

func (c *AppConfig) vaultDescriptors() (*vault.Descriptors, error) {
	if c.descriptors != nil {
		return c.descriptors, nil
	}

	descriptors, err := c.Descriptors.Parse(c.Network)
	if err != nil {
		return nil, err
	}
	c.descriptors = descriptors
	return c.descriptors, nil
}

func (c *AppConfig) signerChannel() *signer.Channel {
	if c.channel != nil {
		return c.channel
	}

	connector, _ := c.deviceConnector()
	c.channel, _ = signer.NewChannel(connector, c.Observer)
	return c.channel
}

func (c *AppConfig) cosignService() *application.CosignService {
	if c.cosignSvc != nil {
		return c.cosignSvc
	}

	rm, _ := c.repoManager()
	descriptors, _ := c.vaultDescriptors()
	c.cosignSvc = application.NewCosignService(
		rm, c.signerChannel(), descriptors, c.ProbeInterval,
	)
	return c.cosignSvc
}
