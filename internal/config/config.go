package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the key to customize the datadir.
	DatadirKey = "DATADIR"
	// LogLevelKey is the key to customize the log level to catch more specific
	// or more high level logs.
	LogLevelKey = "LOG_LEVEL"
	// LogFileKey is the key to enable logging to a rotating file in the
	// datadir, in addition to stderr.
	LogFileKey = "LOG_FILE"
	// NetworkKey is the key to customize the Bitcoin network.
	NetworkKey = "NETWORK"
	// DatabaseTypeKey is the key to customize the type of database to use.
	DatabaseTypeKey = "DATABASE_TYPE"
	// DeviceTypeKey is the key to customize the type of signing device.
	DeviceTypeKey = "DEVICE_TYPE"
	// DeviceAddrKey is the key to reach the signing device over TCP.
	DeviceAddrKey = "DEVICE_ADDR"
	// SerialPortKey is the key to reach the signing device over a serial port.
	// Used only if the device address is not defined.
	SerialPortKey = "SERIAL_PORT"
	// SerialBaudRateKey is the key to customize the baud rate of the serial
	// port.
	SerialBaudRateKey = "SERIAL_BAUD_RATE"
	// SerialVIDKey is the key to look for the signing device among the USB
	// serial ports by vendor id, if the serial port is not defined.
	SerialVIDKey = "SERIAL_VID"
	// ProbeIntervalKey is the key to customize the interval, in milliseconds,
	// between two liveness probes of the device while signing.
	ProbeIntervalKey = "PROBE_INTERVAL_MS"
	// DepositDescriptorKey is the key to set the deposit output descriptor.
	DepositDescriptorKey = "DEPOSIT_DESCRIPTOR"
	// UnvaultDescriptorKey is the key to set the unvault output descriptor.
	UnvaultDescriptorKey = "UNVAULT_DESCRIPTOR"
	// CpfpDescriptorKey is the key to set the cpfp output descriptor.
	CpfpDescriptorKey = "CPFP_DESCRIPTOR"
	// EmergencyAddressKey is the key to set the emergency address.
	EmergencyAddressKey = "EMERGENCY_ADDRESS"
	// NoMetricsKey is the key to disable the Prometheus exporter.
	NoMetricsKey = "NO_METRICS"
	// MetricsPortKey is the key to customize the port of the Prometheus
	// exporter.
	MetricsPortKey = "METRICS_PORT"
	// StatsIntervalKey is the key to customize the interval, in seconds, for
	// the profiler to log memory stats.
	StatsIntervalKey = "STATS_INTERVAL"
	// SimulatorPortKey is the key to customize the port the device simulator
	// listens on.
	SimulatorPortKey = "SIMULATOR_PORT"
	// SimulatorXprvsKey is the key to set the extended private keys the
	// simulator signs with.
	SimulatorXprvsKey = "SIMULATOR_XPRVS"
	// SimulatorMnemonicKey is the key to set the mnemonic the simulator
	// derives its master key from, if no xprv is defined.
	SimulatorMnemonicKey = "SIMULATOR_MNEMONIC"
	// SimulatorNoBatchKey is the key to make the simulator reject batch
	// requests like a device not supporting them.
	SimulatorNoBatchKey = "SIMULATOR_NO_BATCH"

	// DbUserKey is user used to connect to db
	DbUserKey = "DB_USER"
	// DbPassKey is password used to connect to db
	DbPassKey = "DB_PASS"
	// DbHostKey is host where db is installed
	DbHostKey = "DB_HOST"
	// DbPortKey is port on which db is listening
	DbPortKey = "DB_PORT"
	// DbNameKey is name of database
	DbNameKey = "DB_NAME"

	// DbLocation is the folder inside the datadir containing db files.
	DbLocation = "db"
	// LogLocation is the folder inside the datadir containing log files.
	LogLocation = "logs"
	// ProfilerLocation is the folder inside the datadir containing profiler
	// stats files.
	ProfilerLocation = "stats"
	// LockFile is the file inside the datadir locked while a device is in use.
	LockFile = "signer.lock"
)

var (
	vip *viper.Viper

	defaultDatadir        = btcutil.AppDataDir("vaultsigner", false)
	defaultDbType         = "badger"
	defaultDeviceType     = "dummysigner"
	defaultDeviceAddr     = "localhost:8080"
	defaultLogLevel       = 4
	defaultNetwork        = chaincfg.MainNetParams.Name
	defaultProbeInterval  = 1000
	defaultSerialBaudRate = 9600
	defaultMetricsPort    = 18091
	defaultStatsInterval  = 600 // 10 minutes
	defaultSimulatorPort  = 8080

	supportedNetworks = map[string]*chaincfg.Params{
		chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
		chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
		chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
		chaincfg.SigNetParams.Name:        &chaincfg.SigNetParams,
	}
	SupportedDbs = supportedType{
		"badger":   {},
		"inmemory": {},
		"postgres": {},
	}
	SupportedDevices = supportedType{
		"dummysigner": {},
		"specter":     {},
	}
)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("VAULTSIGNER")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, defaultLogLevel)
	vip.SetDefault(LogFileKey, false)
	vip.SetDefault(NetworkKey, defaultNetwork)
	vip.SetDefault(DatabaseTypeKey, defaultDbType)
	vip.SetDefault(DeviceTypeKey, defaultDeviceType)
	vip.SetDefault(SerialBaudRateKey, defaultSerialBaudRate)
	vip.SetDefault(ProbeIntervalKey, defaultProbeInterval)
	vip.SetDefault(NoMetricsKey, false)
	vip.SetDefault(MetricsPortKey, defaultMetricsPort)
	vip.SetDefault(StatsIntervalKey, defaultStatsInterval)
	vip.SetDefault(SimulatorPortKey, defaultSimulatorPort)
	vip.SetDefault(SimulatorNoBatchKey, false)
	vip.SetDefault(DbUserKey, "root")
	vip.SetDefault(DbPassKey, "secret")
	vip.SetDefault(DbHostKey, "127.0.0.1")
	vip.SetDefault(DbPortKey, 5432)
	vip.SetDefault(DbNameKey, "vaultsigner-db")

	// The dummysigner is reachable over TCP only.
	if GetString(DeviceTypeKey) == "dummysigner" {
		vip.SetDefault(DeviceAddrKey, defaultDeviceAddr)
	}

	if err := validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	if err := initDatadir(); err != nil {
		log.Fatalf("config: error while creating datadir: %s", err)
	}
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	net := GetString(NetworkKey)
	if len(net) == 0 {
		return fmt.Errorf("network must not be null")
	}
	if _, ok := supportedNetworks[net]; !ok {
		nets := make([]string, 0, len(supportedNetworks))
		for net := range supportedNetworks {
			nets = append(nets, net)
		}
		return fmt.Errorf("unknown network, must be one of: %v", nets)
	}

	dbType := GetString(DatabaseTypeKey)
	if _, ok := SupportedDbs[dbType]; !ok {
		return fmt.Errorf("unsupported database type, must be one of %s", SupportedDbs)
	}

	deviceType := GetString(DeviceTypeKey)
	if _, ok := SupportedDevices[deviceType]; !ok {
		return fmt.Errorf(
			"unsupported device type, must be one of %s", SupportedDevices,
		)
	}
	if deviceType == "dummysigner" && GetString(DeviceAddrKey) == "" {
		return fmt.Errorf("device address must not be null")
	}

	if GetInt(ProbeIntervalKey) <= 0 {
		return fmt.Errorf("probe interval must be a positive number of milliseconds")
	}
	if GetInt(SerialBaudRateKey) <= 0 {
		return fmt.Errorf("serial baud rate must be greater than zero")
	}

	if !GetBool(NoMetricsKey) {
		if GetInt(MetricsPortKey) == GetInt(SimulatorPortKey) {
			return fmt.Errorf("metrics port and simulator port must not be equal")
		}
	}

	return nil
}

func GetDatadir() string {
	return filepath.Join(GetString(DatadirKey), GetString(NetworkKey))
}

func GetNetwork() *chaincfg.Params {
	return supportedNetworks[GetString(NetworkKey)]
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

// GetStringSlice returns a list defined as a comma separated string.
func GetStringSlice(key string) []string {
	list := make([]string, 0)
	for _, str := range strings.Split(vip.GetString(key), ",") {
		if str = strings.TrimSpace(str); str != "" {
			list = append(list, str)
		}
	}
	return list
}

func Set(key string, val interface{}) {
	vip.Set(key, val)
}

func Unset(key string) {
	vip.Set(key, nil)
}

func IsSet(key string) bool {
	return vip.IsSet(key)
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	if GetBool(LogFileKey) {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, LogLocation)); err != nil {
			return err
		}
	}

	if GetBool(NoMetricsKey) {
		return nil
	}
	return makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}
