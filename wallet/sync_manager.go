package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultSyncInterval is the default pause between periodic sync rounds.
const DefaultSyncInterval = time.Minute

// SyncManagerConfig holds the collaborators and tunables of a SyncManager.
type SyncManagerConfig struct {
	// Syncer runs the sync pipeline per wallet.
	Syncer *Syncer

	// Store lists the wallets to sync.
	Store Store

	// Ticker paces the periodic rounds. Defaults to a ticker.T with
	// DefaultSyncInterval; tests inject a ticker.Force.
	Ticker ticker.Ticker
}

// SyncManager periodically syncs every wallet in the store. A round runs
// once at start, on every tick, and on demand via ForceSync. Wallets are
// synced sequentially within a round; a failing wallet is logged and does
// not stop the round.
type SyncManager struct {
	started sync.Once
	stopped sync.Once

	cfg SyncManagerConfig

	forceSync chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewSyncManager creates a SyncManager, filling in defaults for unset
// tunables.
func NewSyncManager(cfg SyncManagerConfig) *SyncManager {
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(DefaultSyncInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SyncManager{
		cfg:       cfg,
		forceSync: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}
}

// Start launches the periodic sync loop. Calling it more than once is a
// noop.
func (m *SyncManager) Start() {
	m.started.Do(func() {
		log.Info("Sync manager starting")

		m.wg.Add(1)
		go m.syncLoop()
	})
}

// Stop halts the loop and waits for an in-flight round to wind down. The
// run context is cancelled, so a round blocked on the chain or the store
// returns early; completed phases of an interrupted run stand and the next
// run reconciles from there.
func (m *SyncManager) Stop() {
	m.stopped.Do(func() {
		log.Info("Sync manager shutting down...")

		close(m.quit)
		m.cancel()
		m.wg.Wait()
		m.cfg.Ticker.Stop()

		log.Info("Sync manager shutdown complete")
	})
}

// ForceSync requests an immediate round. Requests made while a forced round
// is already pending coalesce into one.
func (m *SyncManager) ForceSync() {
	select {
	case m.forceSync <- struct{}{}:
	default:
	}
}

// syncLoop is the main goroutine: one round up front, then one per tick or
// force request until shutdown.
func (m *SyncManager) syncLoop() {
	defer m.wg.Done()

	m.cfg.Ticker.Resume()

	m.syncRound()

	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			m.syncRound()

		case <-m.forceSync:
			m.syncRound()

		case <-m.quit:
			return
		}
	}
}

// syncRound syncs every wallet in the store once, sequentially.
func (m *SyncManager) syncRound() {
	wallets, err := m.cfg.Store.ListWallets(m.ctx)
	if err != nil {
		log.Errorf("Unable to list wallets for sync round: %v", err)
		return
	}

	for _, w := range wallets {
		select {
		case <-m.quit:
			return
		default:
		}

		result, err := m.cfg.Syncer.SyncWallet(m.ctx, w.ID)
		if err != nil {
			var pErr *PipelineError
			if errors.As(err, &pErr) {
				log.Errorf("Wallet %d: SYNC: phase %q "+
					"failed after %v: %v", w.ID,
					pErr.Phase, pErr.Completed, pErr.Err)
				continue
			}

			log.Errorf("Wallet %d: SYNC: run failed: %v", w.ID,
				err)
			continue
		}

		log.Debugf("Wallet %d: SYNC: round done in %v, %d txs, %d "+
			"new utxos", w.ID,
			result.Elapsed.Round(time.Millisecond),
			result.TxsDiscovered, result.UTXOsCreated)
	}
}
