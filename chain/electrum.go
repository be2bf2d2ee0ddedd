package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
	"github.com/lightninglabs/neutrino/cache/lru"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultRequestTimeout is the per-request deadline applied to every
	// call sent to the Electrum server.
	defaultRequestTimeout = 30 * time.Second

	// defaultConcurrency caps the number of in-flight requests a batch
	// call fans out. ElectrumX starts throttling sessions that exceed
	// ten concurrent requests, so we stay at that limit.
	defaultConcurrency = 10

	// defaultTxCacheSize is the number of raw transactions kept in the
	// in-memory cache.
	defaultTxCacheSize = 1000

	// initialHeaderTimeout bounds how long Start waits for the server to
	// deliver the tip header after subscribing.
	initialHeaderTimeout = 30 * time.Second
)

// ElectrumConfig holds the settings for an ElectrumClient.
type ElectrumConfig struct {
	// Server is the host:port address of the Electrum server.
	Server string

	// UseSSL dials the server over TLS when set.
	UseSSL bool

	// TLSConfig is the TLS configuration used when UseSSL is set. May be
	// nil for the default configuration.
	TLSConfig *tls.Config

	// Concurrency caps the number of parallel requests issued by the
	// batch methods. Defaults to defaultConcurrency when zero.
	Concurrency int

	// TxCacheSize is the number of fetched transactions kept in memory.
	// Defaults to defaultTxCacheSize when zero.
	TxCacheSize int

	// RequestTimeout is the deadline applied to each individual server
	// request. Defaults to defaultRequestTimeout when zero.
	RequestTimeout time.Duration
}

// cacheableTx wraps a wire.MsgTx so it can live in the LRU cache.
type cacheableTx struct {
	msgTx *wire.MsgTx
}

// Size returns 1 so the cache is limited by transaction count rather than
// by bytes.
func (t *cacheableTx) Size() (uint64, error) {
	return 1, nil
}

// ElectrumClient talks to an Electrum server and exposes it through the
// Client interface. Transactions are immutable, so fetched ones are kept in
// an LRU cache, and the tip height is tracked through the server's header
// subscription.
type ElectrumClient struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg ElectrumConfig

	client *electrum.Client

	txCache *lru.Cache[chainhash.Hash, *cacheableTx]

	bestHeight atomic.Int32

	wg   sync.WaitGroup
	quit chan struct{}
}

// A compile time check to ensure ElectrumClient implements the Client
// interface.
var _ Client = (*ElectrumClient)(nil)

// NewElectrumClient creates a new Electrum backed chain client. Start must
// be called before any of the query methods.
func NewElectrumClient(cfg ElectrumConfig) *ElectrumClient {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.TxCacheSize <= 0 {
		cfg.TxCacheSize = defaultTxCacheSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &ElectrumClient{
		cfg: cfg,
		txCache: lru.NewCache[chainhash.Hash, *cacheableTx](
			uint64(cfg.TxCacheSize),
		),
		quit: make(chan struct{}),
	}
}

// Start connects to the configured server, subscribes to header
// notifications and blocks until the server has reported the current tip, so
// BestHeight is valid as soon as Start returns.
func (c *ElectrumClient) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Infof("Connecting to Electrum server %v (ssl=%v)", c.cfg.Server,
		c.cfg.UseSSL)

	var err error
	if c.cfg.UseSSL {
		c.client, err = electrum.NewClientSSL(
			ctx, c.cfg.Server, c.cfg.TLSConfig,
		)
	} else {
		c.client, err = electrum.NewClientTCP(ctx, c.cfg.Server)
	}
	if err != nil {
		return fmt.Errorf("unable to connect to %s: %w", c.cfg.Server,
			err)
	}

	// The subscription must outlive ctx, which only governs startup, so
	// it runs on the background context and is torn down by Stop.
	headerChan, err := c.client.SubscribeHeaders(context.Background())
	if err != nil {
		c.client.Shutdown()
		return fmt.Errorf("unable to subscribe to headers: %w", err)
	}

	// The server sends the current tip immediately after subscribing.
	select {
	case header, ok := <-headerChan:
		if !ok {
			c.client.Shutdown()
			return fmt.Errorf("header subscription closed: %w",
				ErrNotConnected)
		}
		c.bestHeight.Store(int32(header.Height))

	case <-time.After(initialHeaderTimeout):
		c.client.Shutdown()
		return fmt.Errorf("timeout waiting for initial header from "+
			"%s", c.cfg.Server)

	case <-ctx.Done():
		c.client.Shutdown()
		return ctx.Err()
	}

	log.Infof("Connected to Electrum server %v, tip height %d",
		c.cfg.Server, c.bestHeight.Load())

	c.wg.Add(1)
	go c.headerListener(headerChan)

	return nil
}

// Stop shuts down the client and waits for its goroutines to exit. It is
// safe to call more than once.
func (c *ElectrumClient) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}

	log.Debugf("Electrum chain client shutting down...")

	close(c.quit)
	c.wg.Wait()

	if c.client != nil {
		c.client.Shutdown()
	}

	log.Debugf("Electrum chain client shutdown complete")
}

// headerListener consumes the header subscription and keeps the cached tip
// height current.
func (c *ElectrumClient) headerListener(
	headerChan <-chan *electrum.SubscribeHeadersResult) {

	defer c.wg.Done()

	for {
		select {
		case header, ok := <-headerChan:
			if !ok {
				log.Warnf("Header subscription to %v closed",
					c.cfg.Server)
				return
			}

			newHeight := int32(header.Height)
			old := c.bestHeight.Swap(newHeight)
			if newHeight < old {
				log.Warnf("Chain tip moved backwards from "+
					"%d to %d, possible reorg", old,
					newHeight)
			} else {
				log.Debugf("New chain tip at height %d",
					newHeight)
			}

		case <-c.quit:
			return
		}
	}
}

// GetHistory returns every transaction touching the given output script.
func (c *ElectrumClient) GetHistory(ctx context.Context,
	pkScript []byte) ([]HistoryEntry, error) {

	if err := c.checkStarted(); err != nil {
		return nil, err
	}

	ctx, cancel := c.requestCtx(ctx)
	defer cancel()

	res, err := c.client.GetHistory(ctx, ScripthashFromScript(pkScript))
	if err != nil {
		return nil, fmt.Errorf("get_history: %w", err)
	}

	return historyFromElectrum(res)
}

// GetHistoryBatch fetches the histories of multiple output scripts in
// parallel, bounded by the configured concurrency. The result is
// index-aligned with pkScripts. A single failing script fails the whole
// batch.
func (c *ElectrumClient) GetHistoryBatch(ctx context.Context,
	pkScripts [][]byte) ([][]HistoryEntry, error) {

	if err := c.checkStarted(); err != nil {
		return nil, err
	}

	histories := make([][]HistoryEntry, len(pkScripts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.Concurrency)

	for i, pkScript := range pkScripts {
		eg.Go(func() error {
			history, err := c.GetHistory(ctx, pkScript)
			if err != nil {
				return err
			}
			histories[i] = history

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return histories, nil
}

// ListUnspent returns the unspent outputs paying the given output script.
func (c *ElectrumClient) ListUnspent(ctx context.Context,
	pkScript []byte) ([]Unspent, error) {

	if err := c.checkStarted(); err != nil {
		return nil, err
	}

	ctx, cancel := c.requestCtx(ctx)
	defer cancel()

	res, err := c.client.ListUnspent(ctx, ScripthashFromScript(pkScript))
	if err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}

	return unspentFromElectrum(res)
}

// ListUnspentBatch fetches the unspent outputs of multiple output scripts
// in parallel, bounded by the configured concurrency. The result is
// index-aligned with pkScripts. A single failing script fails the whole
// batch.
func (c *ElectrumClient) ListUnspentBatch(ctx context.Context,
	pkScripts [][]byte) ([][]Unspent, error) {

	if err := c.checkStarted(); err != nil {
		return nil, err
	}

	unspents := make([][]Unspent, len(pkScripts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.Concurrency)

	for i, pkScript := range pkScripts {
		eg.Go(func() error {
			unspent, err := c.ListUnspent(ctx, pkScript)
			if err != nil {
				return err
			}
			unspents[i] = unspent

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return unspents, nil
}

// GetTransaction returns the full transaction with the given hash, serving
// it from the cache when it was fetched before.
func (c *ElectrumClient) GetTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if err := c.checkStarted(); err != nil {
		return nil, err
	}

	cached, err := c.txCache.Get(txid)
	if err == nil {
		return cached.msgTx, nil
	}

	ctx, cancel := c.requestCtx(ctx)
	defer cancel()

	rawHex, err := c.client.GetRawTransaction(ctx, txid.String())
	if err != nil {
		return nil, fmt.Errorf("get transaction %v: %w", txid, err)
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decode transaction %v: %w", txid, err)
	}

	msgTx := &wire.MsgTx{}
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize transaction %v: %w", txid,
			err)
	}

	if _, err := c.txCache.Put(txid, &cacheableTx{msgTx: msgTx}); err != nil {
		log.Errorf("Unable to cache transaction %v: %v", txid, err)
	}

	return msgTx, nil
}

// BestHeight returns the tip height reported by the header subscription.
func (c *ElectrumClient) BestHeight(_ context.Context) (int32, error) {
	if err := c.checkStarted(); err != nil {
		return 0, err
	}

	return c.bestHeight.Load(), nil
}

// checkStarted makes sure the client is in a state to serve requests.
func (c *ElectrumClient) checkStarted() error {
	if c.stopped.Load() {
		return ErrClientShutdown
	}
	if !c.started.Load() || c.client == nil || c.client.IsShutdown() {
		return ErrNotConnected
	}

	return nil
}

// requestCtx derives the per-request context from ctx.
func (c *ElectrumClient) requestCtx(
	ctx context.Context) (context.Context, context.CancelFunc) {

	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// ScripthashFromScript converts an output script into the script hash form
// the Electrum protocol addresses scripts by: the sha256 digest of the
// script in reversed byte order, hex encoded.
func ScripthashFromScript(pkScript []byte) string {
	digest := sha256.Sum256(pkScript)

	// Electrum addresses hashes in reversed byte order, like txids.
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}

	return hex.EncodeToString(digest[:])
}

// historyFromElectrum converts a get_history response into HistoryEntry
// values.
func historyFromElectrum(
	res []*electrum.GetMempoolResult) ([]HistoryEntry, error) {

	history := make([]HistoryEntry, 0, len(res))
	for _, item := range res {
		txid, err := chainhash.NewHashFromStr(item.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid history txid %q: %w",
				item.Hash, err)
		}

		history = append(history, HistoryEntry{
			TxID:   *txid,
			Height: int32(item.Height),
		})
	}

	return history, nil
}

// unspentFromElectrum converts a listunspent response into Unspent values.
func unspentFromElectrum(
	res []*electrum.ListUnspentResult) ([]Unspent, error) {

	unspent := make([]Unspent, 0, len(res))
	for _, item := range res {
		txid, err := chainhash.NewHashFromStr(item.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo txid %q: %w",
				item.Hash, err)
		}

		unspent = append(unspent, Unspent{
			OutPoint: wire.OutPoint{
				Hash:  *txid,
				Index: uint32(item.Position),
			},
			Amount: btcutil.Amount(item.Value),
			Height: int32(item.Height),
		})
	}

	return unspent, nil
}
