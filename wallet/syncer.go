package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

// Names of the built-in sync phases, in their default pipeline order.
const (
	// PhaseFetchHistories fetches the transaction history of every
	// wallet address.
	PhaseFetchHistories = "fetch_histories"

	// PhaseUpdateAddresses marks addresses with history as used.
	PhaseUpdateAddresses = "update_addresses"

	// PhaseExtendGapLimit derives new addresses until the unused tail of
	// each branch matches the configured gap limit.
	PhaseExtendGapLimit = "extend_gap_limit"

	// PhaseFetchUTXOs fetches the unspent outputs of every wallet
	// address.
	PhaseFetchUTXOs = "fetch_utxos"

	// PhaseInsertUTXOs inserts newly observed outputs and records their
	// parent transactions.
	PhaseInsertUTXOs = "insert_utxos"

	// PhaseReconcileUTXOs reconciles the stored UTXO set against the
	// chain view, marking spent outputs and refreshing confirmations.
	PhaseReconcileUTXOs = "reconcile_utxos"
)

// Phase is one unit of the sync pipeline: a named function that consumes and
// mutates the run's SyncContext.
type Phase struct {
	// Name identifies the phase in filters, callbacks and pipeline
	// errors.
	Name string

	// Run executes the phase against the given run context.
	Run func(ctx context.Context, sc *SyncContext) error
}

// PipelineError is returned when a sync phase fails. It carries the failing
// phase, the phases that completed before it, and the original cause.
type PipelineError struct {
	// Phase is the name of the phase that failed.
	Phase string

	// Completed lists the phases that finished before the failure, in
	// execution order.
	Completed []string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("sync phase %q failed after [%s]: %v", e.Phase,
		strings.Join(e.Completed, " "), e.Err)
}

// Unwrap returns the underlying cause so callers can match it with
// errors.Is and errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// SyncResult summarizes a completed sync run.
type SyncResult struct {
	// WalletID is the wallet that was synced.
	WalletID uint32

	// Addresses is the number of wallet addresses at the end of the run,
	// including any derived by gap-limit extension.
	Addresses int

	// TxsDiscovered is the number of distinct transactions observed.
	TxsDiscovered int

	// UTXOsCreated is the number of outputs newly inserted.
	UTXOsCreated int

	// Stats holds the detailed per-phase counters.
	Stats SyncStats

	// Completed lists the executed phases in order.
	Completed []string

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// SyncerConfig holds the collaborators and tunables of a Syncer.
type SyncerConfig struct {
	// Store is the wallet database.
	Store Store

	// Chain is the chain view runs reconcile against.
	Chain chain.Client

	// Params describe the network the wallets operate on.
	Params *chaincfg.Params

	// GapLimit is the number of consecutive unused addresses kept
	// derived ahead of the last used one on each branch. Defaults to
	// DefaultGapLimit.
	GapLimit uint32

	// BatchSize is the number of addresses grouped into one batched
	// chain query. Defaults to DefaultBatchSize.
	BatchSize int
}

// Syncer runs the sync pipeline for wallets. It is stateless across runs;
// every run owns its SyncContext, so distinct wallets may sync concurrently.
type Syncer struct {
	cfg SyncerConfig
}

// NewSyncer creates a Syncer, filling in defaults for unset tunables.
func NewSyncer(cfg SyncerConfig) *Syncer {
	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Syncer{cfg: cfg}
}

// defaultPhases returns the built-in pipeline in its declared order.
func (s *Syncer) defaultPhases() []Phase {
	return []Phase{
		{Name: PhaseFetchHistories, Run: s.fetchHistories},
		{Name: PhaseUpdateAddresses, Run: s.updateAddresses},
		{Name: PhaseExtendGapLimit, Run: s.extendGapLimit},
		{Name: PhaseFetchUTXOs, Run: s.fetchUTXOs},
		{Name: PhaseInsertUTXOs, Run: s.insertUTXOs},
		{Name: PhaseReconcileUTXOs, Run: s.reconcileUTXOs},
	}
}

// syncOptions collects the per-run knobs of SyncWallet.
type syncOptions struct {
	only    fn.Set[string]
	skip    fn.Set[string]
	onPhase func(phase string, sc *SyncContext)
}

// SyncOption configures a single SyncWallet run.
type SyncOption func(*syncOptions)

// WithOnlyPhases restricts the run to the named phases. The relative order
// of the pipeline is preserved; the option never reorders phases.
func WithOnlyPhases(names ...string) SyncOption {
	return func(o *syncOptions) {
		o.only = fn.NewSet(names...)
	}
}

// WithSkipPhases excludes the named phases from the run.
func WithSkipPhases(names ...string) SyncOption {
	return func(o *syncOptions) {
		o.skip = fn.NewSet(names...)
	}
}

// WithPhaseCallback registers a function invoked after each phase completes,
// receiving the phase name and the run context.
func WithPhaseCallback(f func(phase string, sc *SyncContext)) SyncOption {
	return func(o *syncOptions) {
		o.onPhase = f
	}
}

// selectPhases applies the only/skip filters to the pipeline, keeping the
// declared order.
func selectPhases(phases []Phase, o *syncOptions) []Phase {
	selected := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if o.only.Size() > 0 && !o.only.Contains(p.Name) {
			continue
		}
		if o.skip.Contains(p.Name) {
			continue
		}

		selected = append(selected, p)
	}

	return selected
}

// SyncWallet runs the sync pipeline for one wallet. The wallet must exist;
// ErrWalletNotFound is returned otherwise with no partial result. A wallet
// without addresses short-circuits to an all-zero result. Any phase failure
// is wrapped in a *PipelineError carrying the phases completed so far; the
// pipeline never retries on its own.
func (s *Syncer) SyncWallet(ctx context.Context, walletID uint32,
	opts ...SyncOption) (*SyncResult, error) {

	var o syncOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()

	w, err := s.cfg.Store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %d: %w", walletID, err)
	}

	bestHeight, err := s.cfg.Chain.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain tip: %w", err)
	}

	addrs, err := s.cfg.Store.ListAddresses(ctx, db.ListAddressesQuery{
		WalletID: walletID,
	})
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}

	// A wallet without addresses has nothing to reconcile.
	if len(addrs) == 0 {
		log.Debugf("Wallet %d: SYNC: no addresses, nothing to do",
			walletID)

		return &SyncResult{
			WalletID: walletID,
			Elapsed:  time.Since(start),
		}, nil
	}

	sc := newSyncContext(w, s.cfg.Chain, s.cfg.Params, bestHeight, addrs)

	log.Infof("Wallet %d: SYNC: starting at height %d with %d addresses",
		walletID, bestHeight, len(addrs))

	for _, phase := range selectPhases(s.defaultPhases(), &o) {
		if err := phase.Run(ctx, sc); err != nil {
			return nil, &PipelineError{
				Phase:     phase.Name,
				Completed: sc.Completed,
				Err:       err,
			}
		}

		sc.Completed = append(sc.Completed, phase.Name)
		if o.onPhase != nil {
			o.onPhase(phase.Name, sc)
		}
	}

	// Record the height this run reconciled against. Failing to record
	// it is not worth failing a run whose phases all succeeded.
	err = s.cfg.Store.UpdateSyncedHeight(ctx, walletID, bestHeight)
	if err != nil {
		log.Warnf("Wallet %d: SYNC: unable to record synced "+
			"height %d: %v", walletID, bestHeight, err)
	}

	result := &SyncResult{
		WalletID:      walletID,
		Addresses:     len(sc.Addresses),
		TxsDiscovered: len(sc.TxHeights),
		UTXOsCreated:  sc.Stats.UTXOsCreated,
		Stats:         sc.Stats,
		Completed:     sc.Completed,
		Elapsed:       time.Since(start),
	}

	log.Infof("Wallet %d: SYNC: finished in %v: %d addresses, %d txs, "+
		"%d new utxos, %d spent, %d refreshed", walletID,
		result.Elapsed.Round(time.Millisecond), result.Addresses,
		result.TxsDiscovered, result.UTXOsCreated,
		sc.Stats.UTXOsMarkedSpent, sc.Stats.UTXOsUpdated)

	return result, nil
}
