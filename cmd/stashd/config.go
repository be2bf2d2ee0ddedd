package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/stashbtc/stashd/wallet"
)

const (
	defaultLogDirname  = "logs"
	defaultLogFilename = "stashd.log"
	defaultDBFilename  = "stashd.db"
	defaultLogLevel    = "info"

	// defaultSyncInterval is the pause between periodic sync rounds.
	defaultSyncInterval = time.Minute

	// Default public Electrum endpoints, used when no server is
	// configured.
	defaultMainnetElectrum = "electrum.blockstream.info:50002"
	defaultTestnetElectrum = "electrum.blockstream.info:60002"
)

var (
	stashdHomeDir  = btcutil.AppDataDir("stashd", false)
	defaultDataDir = stashdHomeDir
	defaultLogDir  = filepath.Join(stashdHomeDir, defaultLogDirname)
)

// dbConfig groups the database options.
type dbConfig struct {
	Backend     string `long:"backend" description:"Database backend to use" choice:"sqlite" choice:"postgres" default:"sqlite"`
	SQLitePath  string `long:"sqlitepath" description:"Path of the sqlite database file (default: <datadir>/stashd.db)"`
	PostgresDSN string `long:"postgresdsn" description:"Connection string of the postgres database"`
}

// electrumConfig groups the Electrum server options.
type electrumConfig struct {
	Server string `long:"server" description:"Host:port of the Electrum server to connect to (default: the blockstream.info server of the active network)"`
	UseSSL bool   `long:"usessl" description:"Connect to the Electrum server over TLS"`
}

// syncConfig groups the sync pipeline options.
type syncConfig struct {
	Interval  time.Duration `long:"interval" description:"Pause between periodic sync rounds" default:"1m"`
	GapLimit  uint32        `long:"gaplimit" description:"Number of unused addresses kept derived ahead of the last used one" default:"20"`
	BatchSize int           `long:"batchsize" description:"Number of addresses grouped into one batched chain query" default:"50"`
}

// config defines the configuration options for stashd.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the wallet database"`
	TestNet     bool   `long:"testnet" description:"Use the test network (default mainnet)"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} -- also accepts subsystem=level pairs"`
	LogDir      string `long:"logdir" description:"Directory to log output"`

	Create     bool   `long:"create" description:"Create a new wallet and exit"`
	WalletName string `long:"walletname" description:"Name of the wallet to create; required with --create"`
	Descriptor string `long:"descriptor" description:"Output script descriptor of the wallet to create; required with --create"`

	DB       dbConfig       `group:"DB" namespace:"db"`
	Electrum electrumConfig `group:"Electrum" namespace:"electrum"`
	Sync     syncConfig     `group:"Sync" namespace:"sync"`
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(stashdHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using command line options,
// fills in network dependent defaults, validates the result and sets up
// logging. It returns the parsed configuration and the parameters of the
// active network.
func loadConfig() (*config, *chaincfg.Params, error) {
	cfg := config{
		DataDir:    defaultDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, nil, err
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	params := &chaincfg.MainNetParams
	if cfg.TestNet {
		params = &chaincfg.TestNet3Params
	}

	// Per-network data and log directories keep mainnet and testnet
	// state apart.
	cfg.DataDir = filepath.Join(
		cleanAndExpandPath(cfg.DataDir), params.Name,
	)
	cfg.LogDir = filepath.Join(
		cleanAndExpandPath(cfg.LogDir), params.Name,
	)

	if cfg.DB.SQLitePath == "" {
		cfg.DB.SQLitePath = filepath.Join(
			cfg.DataDir, defaultDBFilename,
		)
	}
	if cfg.DB.Backend == "postgres" && cfg.DB.PostgresDSN == "" {
		return nil, nil, fmt.Errorf("the postgres backend requires " +
			"--db.postgresdsn")
	}

	if cfg.Electrum.Server == "" {
		cfg.Electrum.Server = defaultMainnetElectrum
		if cfg.TestNet {
			cfg.Electrum.Server = defaultTestnetElectrum
		}
		cfg.Electrum.UseSSL = true
	}

	if cfg.Create {
		if cfg.WalletName == "" || cfg.Descriptor == "" {
			return nil, nil, fmt.Errorf("--create requires " +
				"--walletname and --descriptor")
		}

		// Fail on a malformed descriptor before anything is written.
		_, err := wallet.ParseDescriptor(cfg.Descriptor, params)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.Sync.Interval <= 0 {
		return nil, nil, fmt.Errorf("--sync.interval must be positive")
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return nil, nil, err
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("%w -- use -h to show usage", err)
	}

	return &cfg, params, nil
}
