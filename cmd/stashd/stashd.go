// stashd keeps a local relational projection of a watch-only wallet's
// addresses, transactions and unspent outputs synchronized with the chain
// view served by an Electrum server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet"
)

const appName = "stashd"

// semanticVersion is the release version of the daemon.
const semanticVersion = "0.2.0"

// version returns the application version as a properly formed string.
func version() string {
	return semanticVersion
}

func main() {
	if err := stashdMain(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured database backend and returns the store
// together with the handle to close on shutdown.
func openStore(cfg *config) (wallet.Store, *sql.DB, error) {
	switch cfg.DB.Backend {
	case "postgres":
		return wallet.OpenPostgresStore(cfg.DB.PostgresDSN)
	default:
		return wallet.OpenSQLiteStore(cfg.DB.SQLitePath)
	}
}

// createWallet registers the wallet described by the --create flags and
// derives its initial gap-limit window of receive and change addresses.
func createWallet(ctx context.Context, cfg *config,
	params *chaincfg.Params, store wallet.Store) error {

	w, err := wallet.Create(ctx, store, params, wallet.CreateParams{
		Name:       cfg.WalletName,
		Descriptor: cfg.Descriptor,
		GapLimit:   cfg.Sync.GapLimit,
	})
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	log.Infof("Wallet %q created with id %d on %s", w.Name, w.ID,
		params.Name)

	return nil
}

// stashdMain is the real main. Deferred cleanups run before the exit code
// is decided, unlike in main itself.
func stashdMain() error {
	cfg, params, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s, network %s", version(), params.Name)

	store, dbConn, err := openStore(cfg)
	if err != nil {
		log.Errorf("Unable to open database: %v", err)
		return err
	}
	defer dbConn.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	if cfg.Create {
		return createWallet(ctx, cfg, params, store)
	}

	client := chain.NewElectrumClient(chain.ElectrumConfig{
		Server: cfg.Electrum.Server,
		UseSSL: cfg.Electrum.UseSSL,
	})
	if err := client.Start(ctx); err != nil {
		log.Errorf("Unable to connect to Electrum server %s: %v",
			cfg.Electrum.Server, err)
		return err
	}
	defer client.Stop()

	syncer := wallet.NewSyncer(wallet.SyncerConfig{
		Store:     store,
		Chain:     client,
		Params:    params,
		GapLimit:  cfg.Sync.GapLimit,
		BatchSize: cfg.Sync.BatchSize,
	})

	manager := wallet.NewSyncManager(wallet.SyncManagerConfig{
		Syncer: syncer,
		Store:  store,
		Ticker: ticker.New(cfg.Sync.Interval),
	})
	manager.Start()
	defer manager.Stop()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	return nil
}
