package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	appconfig "github.com/vulpemventures/vault-cosigner/internal/app-config"
	"github.com/vulpemventures/vault-cosigner/internal/config"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer"
	postgresdb "github.com/vulpemventures/vault-cosigner/internal/infrastructure/storage/db/postgres"
	"github.com/vulpemventures/vault-cosigner/pkg/profiler"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Build info.
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Config from env vars.
	dbType         = config.GetString(config.DatabaseTypeKey)
	logLevel       = config.GetInt(config.LogLevelKey)
	logToFile      = config.GetBool(config.LogFileKey)
	datadir        = config.GetDatadir()
	network        = config.GetNetwork()
	deviceType     = config.GetString(config.DeviceTypeKey)
	deviceAddr     = config.GetString(config.DeviceAddrKey)
	serialPort     = config.GetString(config.SerialPortKey)
	serialVID      = config.GetString(config.SerialVIDKey)
	serialBaudRate = config.GetInt(config.SerialBaudRateKey)
	probeInterval  = time.Duration(config.GetInt(config.ProbeIntervalKey)) * time.Millisecond
	noMetrics      = config.GetBool(config.NoMetricsKey)
	metricsPort    = config.GetInt(config.MetricsPortKey)
	statsInterval  = time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
	dbDir          = filepath.Join(datadir, config.DbLocation)
	logDir         = filepath.Join(datadir, config.LogLocation)
	profilerDir    = filepath.Join(datadir, config.ProfilerLocation)
	lockPath       = filepath.Join(datadir, config.LockFile)
	dbConfig       = postgresdb.DbConfig{
		DbUser:     config.GetString(config.DbUserKey),
		DbPassword: config.GetString(config.DbPassKey),
		DbHost:     config.GetString(config.DbHostKey),
		DbPort:     config.GetInt(config.DbPortKey),
		DbName:     config.GetString(config.DbNameKey),
	}
	descriptors = appconfig.DescriptorsConfig{
		Deposit:          config.GetString(config.DepositDescriptorKey),
		Unvault:          config.GetString(config.UnvaultDescriptorKey),
		Cpfp:             config.GetString(config.CpfpDescriptorKey),
		EmergencyAddress: config.GetString(config.EmergencyAddressKey),
	}

	appCfg      *appconfig.AppConfig
	profilerSvc *profiler.ProfilerService
	fileLock    *flock.Flock

	rootCmd = &cobra.Command{
		Use:   "vaultsigner",
		Short: "CLI to co-sign vault transactions with a signing device",
		Long: "This CLI lets you keep track of your vaults and collect the " +
			"signatures of their revocation and unvault transactions from a " +
			"signing device",
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Version:           formatVersion(),
	}
)

func init() {
	rootCmd.AddCommand(
		vaultsCmd, pingCmd, featuresCmd, secureCmd, delegateCmd,
		revocationCmd, unvaultCmd, spendCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printErr(err)
		teardown(nil, nil)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	log.SetLevel(log.Level(logLevel))
	if logToFile {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "vaultsigner.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}))
	}

	// Only one process at a time is allowed to drive the device and to write
	// to the db.
	fileLock = flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %s", lockPath, err)
	}
	if !locked {
		return fmt.Errorf(
			"another vaultsigner process is running (lock %s is held)", lockPath,
		)
	}

	var observer signer.Observer
	if !noMetrics {
		svc, err := profiler.NewService(profiler.ServiceOpts{
			Port:          metricsPort,
			StatsInterval: statsInterval,
			Datadir:       profilerDir,
		})
		if err != nil {
			return fmt.Errorf("profiler: error while initializing: %s", err)
		}
		if err := svc.Start(); err != nil {
			return fmt.Errorf("profiler: error while starting: %s", err)
		}
		profilerSvc = svc
		observer = svc
	}

	var deviceConfig interface{} = deviceAddr
	if deviceAddr == "" {
		deviceConfig = signer.SerialOpts{
			Port:     serialPort,
			VID:      serialVID,
			BaudRate: serialBaudRate,
		}
	}

	var repoManagerConfig interface{} = dbDir
	if dbType == "postgres" {
		repoManagerConfig = dbConfig
	}

	cfg := &appconfig.AppConfig{
		Version:           version,
		Commit:            commit,
		Date:              date,
		Network:           network,
		Descriptors:       descriptors,
		ProbeInterval:     probeInterval,
		RepoManagerType:   dbType,
		RepoManagerConfig: repoManagerConfig,
		DeviceType:        deviceType,
		DeviceConfig:      deviceConfig,
		Observer:          observer,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	appCfg = cfg

	log.Debugf("using %s device on %s network", deviceType, network.Name)
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if appCfg != nil {
		appCfg.Close()
		appCfg = nil
	}
	if profilerSvc != nil {
		profilerSvc.Stop()
		profilerSvc = nil
	}
	if fileLock != nil {
		if err := fileLock.Unlock(); err != nil {
			log.WithError(err).Warn("failed to release lock")
		}
		fileLock = nil
	}
}
