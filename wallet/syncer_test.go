package wallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet/internal/db"
	"github.com/stretchr/testify/require"
)

// fakeChain is an in-memory chain.Client. Histories and unspent outputs are
// keyed by output script. Scripts listed in failScripts fail their singular
// queries and any batch containing them, modelling the all-or-nothing batch
// contract.
type fakeChain struct {
	mu sync.Mutex

	bestHeight int32
	histories  map[string][]chain.HistoryEntry
	unspents   map[string][]chain.Unspent
	txs        map[chainhash.Hash]*wire.MsgTx

	failScripts        map[string]struct{}
	failHistoryBatches bool
	failUnspentBatches bool

	historyBatches int
	historyCalls   int
	unspentBatches int
	unspentCalls   int
}

var _ chain.Client = (*fakeChain)(nil)

func newFakeChain(height int32) *fakeChain {
	return &fakeChain{
		bestHeight:  height,
		histories:   make(map[string][]chain.HistoryEntry),
		unspents:    make(map[string][]chain.Unspent),
		txs:         make(map[chainhash.Hash]*wire.MsgTx),
		failScripts: make(map[string]struct{}),
	}
}

func (c *fakeChain) GetHistory(_ context.Context,
	pkScript []byte) ([]chain.HistoryEntry, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.historyCalls++

	key := hex.EncodeToString(pkScript)
	if _, ok := c.failScripts[key]; ok {
		return nil, errors.New("server error")
	}

	return c.histories[key], nil
}

func (c *fakeChain) GetHistoryBatch(ctx context.Context,
	pkScripts [][]byte) ([][]chain.HistoryEntry, error) {

	c.mu.Lock()
	failBatch := c.failHistoryBatches
	c.historyBatches++
	c.mu.Unlock()

	if failBatch {
		return nil, errors.New("batch rejected")
	}

	results := make([][]chain.HistoryEntry, len(pkScripts))
	for i, script := range pkScripts {
		c.mu.Lock()
		_, fail := c.failScripts[hex.EncodeToString(script)]
		c.mu.Unlock()
		if fail {
			return nil, errors.New("server error")
		}

		entries, err := c.GetHistory(ctx, script)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.historyCalls--
		c.mu.Unlock()

		results[i] = entries
	}

	return results, nil
}

func (c *fakeChain) ListUnspent(_ context.Context,
	pkScript []byte) ([]chain.Unspent, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.unspentCalls++

	key := hex.EncodeToString(pkScript)
	if _, ok := c.failScripts[key]; ok {
		return nil, errors.New("server error")
	}

	return c.unspents[key], nil
}

func (c *fakeChain) ListUnspentBatch(ctx context.Context,
	pkScripts [][]byte) ([][]chain.Unspent, error) {

	c.mu.Lock()
	failBatch := c.failUnspentBatches
	c.unspentBatches++
	c.mu.Unlock()

	if failBatch {
		return nil, errors.New("batch rejected")
	}

	results := make([][]chain.Unspent, len(pkScripts))
	for i, script := range pkScripts {
		c.mu.Lock()
		_, fail := c.failScripts[hex.EncodeToString(script)]
		c.mu.Unlock()
		if fail {
			return nil, errors.New("server error")
		}

		unspents, err := c.ListUnspent(ctx, script)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.unspentCalls--
		c.mu.Unlock()

		results[i] = unspents
	}

	return results, nil
}

func (c *fakeChain) GetTransaction(_ context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txid]
	if !ok {
		return nil, fmt.Errorf("tx %v not found", txid)
	}

	return tx, nil
}

func (c *fakeChain) BestHeight(_ context.Context) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.bestHeight, nil
}

func (c *fakeChain) setBestHeight(height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bestHeight = height
}

// fundCounter keeps the synthetic funding inputs distinct across all fake
// chains of the test binary.
var fundCounter atomic.Uint32

// fund records a transaction paying value to the given output script at the
// given height, visible in both the script's history and its unspent set,
// and returns the funded outpoint.
func (c *fakeChain) fund(t *testing.T, pkScript []byte,
	value btcutil.Amount, height int32) wire.OutPoint {

	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	var prev chainhash.Hash
	binary.BigEndian.PutUint32(prev[:4], fundCounter.Add(1))

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: prev}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	txid := tx.TxHash()
	key := hex.EncodeToString(pkScript)
	op := wire.OutPoint{Hash: txid, Index: 0}

	c.txs[txid] = tx
	c.histories[key] = append(c.histories[key], chain.HistoryEntry{
		TxID:   txid,
		Height: height,
	})
	c.unspents[key] = append(c.unspents[key], chain.Unspent{
		OutPoint: op,
		Amount:   value,
		Height:   height,
	})

	return op
}

// spend removes the outpoint from its script's unspent set, as the chain
// would after the output is consumed.
func (c *fakeChain) spend(pkScript []byte, op wire.OutPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hex.EncodeToString(pkScript)
	remaining := c.unspents[key][:0]
	for _, u := range c.unspents[key] {
		if u.OutPoint != op {
			remaining = append(remaining, u)
		}
	}
	c.unspents[key] = remaining
}

func (c *fakeChain) failScript(pkScript []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failScripts[hex.EncodeToString(pkScript)] = struct{}{}
}

func (c *fakeChain) healScript(pkScript []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.failScripts, hex.EncodeToString(pkScript))
}

// testHarness wires a real SQLite store, a fake chain and a Syncer around
// one freshly created wallet.
type testHarness struct {
	t      *testing.T
	store  Store
	chain  *fakeChain
	syncer *Syncer
	wallet *WalletInfo
}

// testDescriptor builds a deterministic testnet wpkh descriptor.
func testDescriptor(t *testing.T) string {
	t.Helper()

	seed := bytes.Repeat([]byte{0x42}, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	pub, err := master.Neuter()
	require.NoError(t, err)

	return fmt.Sprintf("wpkh(%s)", pub)
}

func newTestHarness(t *testing.T, gapLimit uint32) *testHarness {
	t.Helper()

	store, dbConn, err := OpenSQLiteStore(
		filepath.Join(t.TempDir(), "wallet.db"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbConn.Close())
	})

	ctx := context.Background()
	w, err := Create(ctx, store, &chaincfg.TestNet3Params, CreateParams{
		Name:       "test",
		Descriptor: testDescriptor(t),
		GapLimit:   gapLimit,
	})
	require.NoError(t, err)

	fc := newFakeChain(1000)

	return &testHarness{
		t:     t,
		store: store,
		chain: fc,
		syncer: NewSyncer(SyncerConfig{
			Store:    store,
			Chain:    fc,
			Params:   &chaincfg.TestNet3Params,
			GapLimit: gapLimit,
		}),
		wallet: w,
	}
}

func (h *testHarness) addresses() []db.AddressInfo {
	h.t.Helper()

	addrs, err := h.store.ListAddresses(
		context.Background(),
		db.ListAddressesQuery{WalletID: h.wallet.ID},
	)
	require.NoError(h.t, err)

	return addrs
}

func (h *testHarness) branchAddresses(branch db.Branch) []db.AddressInfo {
	h.t.Helper()

	addrs, err := h.store.ListAddresses(
		context.Background(),
		db.ListAddressesQuery{WalletID: h.wallet.ID, Branch: &branch},
	)
	require.NoError(h.t, err)

	return addrs
}

func (h *testHarness) utxos() []db.UtxoInfo {
	h.t.Helper()

	utxos, err := h.store.ListUTXOs(
		context.Background(),
		db.ListUTXOsQuery{WalletID: h.wallet.ID},
	)
	require.NoError(h.t, err)

	return utxos
}

// TestSyncWalletNotFound makes sure a missing wallet fails the run up front
// with no pipeline error wrapping.
func TestSyncWalletNotFound(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 5)

	_, err := h.syncer.SyncWallet(context.Background(), 9999)
	require.ErrorIs(t, err, ErrWalletNotFound)

	var pErr *PipelineError
	require.False(t, errors.As(err, &pErr))
}

// TestSyncWalletNoAddresses makes sure a wallet without addresses
// short-circuits to an all-zero result without touching the chain.
func TestSyncWalletNoAddresses(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 5)

	empty, err := h.store.CreateWallet(
		context.Background(), db.CreateWalletParams{
			Name:       "empty",
			Descriptor: testDescriptor(t),
		},
	)
	require.NoError(t, err)

	result, err := h.syncer.SyncWallet(context.Background(), empty.ID)
	require.NoError(t, err)

	require.Equal(t, empty.ID, result.WalletID)
	require.Zero(t, result.Addresses)
	require.Zero(t, result.TxsDiscovered)
	require.Zero(t, result.UTXOsCreated)
	require.Empty(t, result.Completed)
	require.Zero(t, h.chain.historyBatches)
}

// TestSyncBatchCounts checks the batching arithmetic: 60 addresses at batch
// size 50 issue exactly two history batches and two unspent batches, and
// every address gets its history resolved.
func TestSyncBatchCounts(t *testing.T) {
	t.Parallel()

	// Gap limit 30 yields 30 receive plus 30 change addresses.
	h := newTestHarness(t, 30)
	require.Len(t, h.addresses(), 60)

	result, err := h.syncer.SyncWallet(context.Background(), h.wallet.ID)
	require.NoError(t, err)

	require.Equal(t, 60, result.Stats.HistoriesFetched)
	require.Equal(t, 2, h.chain.historyBatches)
	require.Equal(t, 2, h.chain.unspentBatches)
	require.Equal(t, 2, result.Stats.HistoryBatchCalls)
	require.Equal(t, 2, result.Stats.UTXOBatchCalls)
	require.Zero(t, result.Stats.HistoryFallbacks)
	require.Zero(t, h.chain.historyCalls)
}

// TestSyncDiscoversFunds runs the full pipeline against a chain with two
// funded addresses and checks every projection: utxo rows, used flags,
// transaction records and the gap extension.
func TestSyncDiscoversFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	op0 := h.chain.fund(t, receive[0].ScriptPubKey, 150_000_000, 995)
	h.chain.fund(t, receive[1].ScriptPubKey, 50_000, 0)

	result, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)

	require.Equal(t, 2, result.TxsDiscovered)
	require.Equal(t, 2, result.UTXOsCreated)
	require.Equal(t, 2, result.Stats.ActiveAddresses)

	// Height 995 at tip 1000 is 6 confirmations; an unconfirmed output
	// has zero.
	utxos := h.utxos()
	require.Len(t, utxos, 2)
	for _, u := range utxos {
		require.False(t, u.Spent)

		if u.OutPoint == op0 {
			require.Equal(t, btcutil.Amount(150_000_000), u.Amount)
			require.Equal(t, int32(6), u.Confirmations)
			require.Equal(t, int32(995), u.Height)
			require.Equal(t, receive[0].Address, u.Address)
			require.Equal(t,
				receive[0].ScriptPubKey, u.ScriptPubKey,
			)
			continue
		}

		require.Zero(t, u.Confirmations)
		require.Equal(t, btcutil.Amount(50_000), u.Amount)
		require.Equal(t, receive[1].Address, u.Address)
	}

	// Both funded addresses are used now, and the external branch was
	// extended so five unused addresses follow index 1.
	receive = h.branchAddresses(db.ExternalBranch)
	require.Len(t, receive, 7)
	require.True(t, receive[0].Used)
	require.True(t, receive[1].Used)
	for _, addr := range receive[2:] {
		require.False(t, addr.Used)
	}

	// The funding transactions were recorded as incoming.
	txs, err := h.store.ListTxs(ctx, db.ListTxsQuery{
		WalletID: h.wallet.ID,
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		require.Equal(t, db.TxCategoryIncoming, tx.Category)
	}
}

// TestSyncIdempotence makes sure a second run against unchanged chain state
// produces zero additional writes.
func TestSyncIdempotence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	h.chain.fund(t, receive[0].ScriptPubKey, 1_000_000, 990)
	h.chain.fund(t, receive[1].ScriptPubKey, 2_000_000, 991)

	first, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, 2, first.UTXOsCreated)
	require.Equal(t, 2, first.Stats.NewAddresses)

	second, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)

	require.Zero(t, second.UTXOsCreated)
	require.Zero(t, second.Stats.UTXOsMarkedSpent)
	require.Zero(t, second.Stats.UTXOsUpdated)
	require.Zero(t, second.Stats.NewAddresses)
	require.Zero(t, second.Stats.DraftsInvalidated)
	require.Equal(t, first.Addresses, second.Addresses)
}

// TestSyncSpentSafety exercises the single most important reconciliation
// guard: an output that disappears from the chain view may only be marked
// spent if its address was queried successfully this run. A failed query
// reads as unknown, not as confirmed absent.
func TestSyncSpentSafety(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	script := receive[0].ScriptPubKey
	op := h.chain.fund(t, script, 500_000, 990)

	_, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Len(t, h.utxos(), 1)

	// The output vanishes from the chain view, but the address query
	// fails in both batch and singular form. The run must leave the
	// stored output untouched.
	h.chain.spend(script, op)
	h.chain.failScript(script)

	result, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Zero(t, result.Stats.UTXOsMarkedSpent)

	utxos := h.utxos()
	require.Len(t, utxos, 1)
	require.False(t, utxos[0].Spent)

	// Once the address queries again, the absence is authoritative and
	// the output transitions to spent.
	h.chain.healScript(script)

	result, err = h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.UTXOsMarkedSpent)

	utxos = h.utxos()
	require.Len(t, utxos, 1)
	require.True(t, utxos[0].Spent)
}

// TestSyncDraftInvalidation makes sure a draft reserving an output is
// deleted, locks and all, in the reconcile pass that marks the output spent.
func TestSyncDraftInvalidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	script := receive[0].ScriptPubKey
	op := h.chain.fund(t, script, 750_000, 992)

	_, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)

	utxos := h.utxos()
	require.Len(t, utxos, 1)

	draft, err := h.store.CreateDraft(ctx, db.CreateDraftParams{
		WalletID: h.wallet.ID,
		RawTx:    []byte{0x02, 0x00},
		Fee:      1_000,
		UTXOIDs:  []int64{utxos[0].ID},
	})
	require.NoError(t, err)

	h.chain.spend(script, op)

	result, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.UTXOsMarkedSpent)
	require.Equal(t, 1, result.Stats.DraftsInvalidated)

	_, err = h.store.GetDraft(ctx, h.wallet.ID, draft.ID)
	require.ErrorIs(t, err, db.ErrDraftNotFound)
}

// TestSyncConfirmationRefresh makes sure reconcile refreshes a stored
// output whose confirmation count went stale as the chain advanced.
func TestSyncConfirmationRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	h.chain.fund(t, receive[0].ScriptPubKey, 150_000_000, 998)

	// At tip 1000 the height 998 output has 3 confirmations.
	_, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)

	utxos := h.utxos()
	require.Len(t, utxos, 1)
	require.Equal(t, int32(3), utxos[0].Confirmations)

	// Five blocks later the stored value is stale and must become 6.
	h.chain.setBestHeight(1003)

	result, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, 1, result.Stats.UTXOsUpdated)

	utxos = h.utxos()
	require.Len(t, utxos, 1)
	require.Equal(t, int32(6), utxos[0].Confirmations)
	require.Equal(t, int32(998), utxos[0].Height)
}

// TestSyncBatchFallback makes sure a failing batch degrades to singular
// queries without failing the phase, and that an address whose singular
// query also fails is still counted as fetched, with an empty history.
func TestSyncBatchFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	h.chain.fund(t, receive[0].ScriptPubKey, 100_000, 990)
	h.chain.failHistoryBatches = true
	h.chain.failScript(receive[3].ScriptPubKey)

	result, err := h.syncer.SyncWallet(
		ctx, h.wallet.ID, WithOnlyPhases(
			PhaseFetchHistories, PhaseUpdateAddresses,
		),
	)
	require.NoError(t, err)

	// All ten addresses fell back and all ten count as fetched, the
	// broken one with an empty history.
	require.Equal(t, 10, result.Stats.HistoriesFetched)
	require.Equal(t, 10, result.Stats.HistoryFallbacks)
	require.Equal(t, 1, result.Stats.ActiveAddresses)

	addrs := h.branchAddresses(db.ExternalBranch)
	require.True(t, addrs[0].Used)
	require.False(t, addrs[3].Used)
}

// TestSyncPhaseFilters checks the only/skip options and that filtering
// never reorders the pipeline.
func TestSyncPhaseFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	// Named out of order, executed in pipeline order.
	result, err := h.syncer.SyncWallet(ctx, h.wallet.ID, WithOnlyPhases(
		PhaseFetchUTXOs, PhaseFetchHistories,
	))
	require.NoError(t, err)
	require.Equal(t,
		[]string{PhaseFetchHistories, PhaseFetchUTXOs},
		result.Completed,
	)

	result, err = h.syncer.SyncWallet(ctx, h.wallet.ID, WithSkipPhases(
		PhaseExtendGapLimit, PhaseReconcileUTXOs,
	))
	require.NoError(t, err)
	require.Equal(t, []string{
		PhaseFetchHistories, PhaseUpdateAddresses,
		PhaseFetchUTXOs, PhaseInsertUTXOs,
	}, result.Completed)
}

// TestSyncPipelineError makes sure a phase failure is wrapped with the
// failing phase and the provenance of completed phases, and that the phase
// callback fires per completed phase.
func TestSyncPipelineError(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 5)

	receive := h.branchAddresses(db.ExternalBranch)
	h.chain.fund(t, receive[0].ScriptPubKey, 100_000, 990)

	// Cancelling after the first phase makes the next storage write
	// fail, which must abort the pipeline as phase-fatal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var completed []string
	_, err := h.syncer.SyncWallet(ctx, h.wallet.ID,
		WithPhaseCallback(func(phase string, _ *SyncContext) {
			completed = append(completed, phase)
			if phase == PhaseFetchHistories {
				cancel()
			}
		}),
	)

	var pErr *PipelineError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, PhaseUpdateAddresses, pErr.Phase)
	require.Equal(t, []string{PhaseFetchHistories}, pErr.Completed)
	require.Equal(t, []string{PhaseFetchHistories}, completed)
	require.ErrorIs(t, err, context.Canceled)
}

// TestSyncRecordsSyncedHeight makes sure a successful run stamps the wallet
// with the tip height it reconciled against.
func TestSyncRecordsSyncedHeight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newTestHarness(t, 5)

	_, err := h.syncer.SyncWallet(ctx, h.wallet.ID)
	require.NoError(t, err)

	w, err := h.store.GetWallet(ctx, h.wallet.ID)
	require.NoError(t, err)
	require.Equal(t, int32(1000), w.SyncedHeight)
}

// TestClassifyTx covers the ownership-based transaction classification.
func TestClassifyTx(t *testing.T) {
	t.Parallel()

	ourScript := []byte{0x00, 0x14, 0x01}
	otherScript := []byte{0x00, 0x14, 0x02}
	ownScripts := map[string]struct{}{
		hex.EncodeToString(ourScript): {},
	}

	ourOutpoint := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}

	newTx := func(prev wire.OutPoint, outs ...[]byte) *wire.MsgTx {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
		for _, script := range outs {
			tx.AddTxOut(wire.NewTxOut(1000, script))
		}
		return tx
	}

	walletOutpoints := fn.NewSet(outPointKey(ourOutpoint))

	tests := []struct {
		name string
		tx   *wire.MsgTx
		want db.TxCategory
	}{
		{
			name: "incoming",
			tx: newTx(
				wire.OutPoint{Hash: chainhash.Hash{0xbb}},
				ourScript, otherScript,
			),
			want: db.TxCategoryIncoming,
		},
		{
			name: "outgoing with change",
			tx:   newTx(ourOutpoint, otherScript, ourScript),
			want: db.TxCategoryOutgoing,
		},
		{
			name: "consolidation",
			tx:   newTx(ourOutpoint, ourScript),
			want: db.TxCategorySelf,
		},
		{
			name: "unrelated",
			tx: newTx(
				wire.OutPoint{Hash: chainhash.Hash{0xbb}},
				otherScript,
			),
			want: db.TxCategoryUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifyTx(tc.tx, ownScripts, walletOutpoints)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestTxSignalsRBF checks the BIP-125 sequence threshold.
func TestTxSignalsRBF(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	tx.AddTxIn(in)

	in.Sequence = wire.MaxTxInSequenceNum
	require.False(t, txSignalsRBF(tx))

	in.Sequence = wire.MaxTxInSequenceNum - 1
	require.False(t, txSignalsRBF(tx))

	in.Sequence = wire.MaxTxInSequenceNum - 2
	require.True(t, txSignalsRBF(tx))
}
