package chain

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
	"github.com/stretchr/testify/require"
)

// TestScripthashFromScript checks the script hash conversion against the
// worked example from the Electrum protocol documentation, the P2PKH script
// of address 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.
func TestScripthashFromScript(t *testing.T) {
	t.Parallel()

	pkScript, err := hex.DecodeString(
		"76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac",
	)
	require.NoError(t, err)

	require.Equal(t,
		"8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfb"+
			"f90b5c39161",
		ScripthashFromScript(pkScript),
	)
}

// TestHistoryFromElectrum checks the conversion of raw server history items,
// including the mempool height sentinels.
func TestHistoryFromElectrum(t *testing.T) {
	t.Parallel()

	confirmed := chainhash.Hash{0x01}
	mempool := chainhash.Hash{0x02}
	unconfParent := chainhash.Hash{0x03}

	history, err := historyFromElectrum([]*electrum.GetMempoolResult{
		{Hash: confirmed.String(), Height: 840_000},
		{Hash: mempool.String(), Height: 0},
		{Hash: unconfParent.String(), Height: -1},
	})
	require.NoError(t, err)

	require.Equal(t, []HistoryEntry{
		{TxID: confirmed, Height: 840_000},
		{TxID: mempool, Height: 0},
		{TxID: unconfParent, Height: -1},
	}, history)
}

// TestHistoryFromElectrumInvalidTxid makes sure a malformed txid fails the
// whole conversion instead of being dropped silently.
func TestHistoryFromElectrumInvalidTxid(t *testing.T) {
	t.Parallel()

	_, err := historyFromElectrum([]*electrum.GetMempoolResult{
		{Hash: "not-a-txid", Height: 1},
	})
	require.ErrorContains(t, err, "invalid history txid")
}

// TestUnspentFromElectrum checks the conversion of raw server listunspent
// items into outpoints and amounts.
func TestUnspentFromElectrum(t *testing.T) {
	t.Parallel()

	txid := chainhash.Hash{0xaa}

	unspent, err := unspentFromElectrum([]*electrum.ListUnspentResult{
		{
			Hash:     txid.String(),
			Position: 1,
			Value:    123_456,
			Height:   840_000,
		},
	})
	require.NoError(t, err)

	require.Equal(t, []Unspent{
		{
			OutPoint: wire.OutPoint{Hash: txid, Index: 1},
			Amount:   btcutil.Amount(123_456),
			Height:   840_000,
		},
	}, unspent)

	_, err = unspentFromElectrum([]*electrum.ListUnspentResult{
		{Hash: "bogus", Position: 0, Value: 1, Height: 0},
	})
	require.ErrorContains(t, err, "invalid utxo txid")
}

// TestNewElectrumClientDefaults makes sure the zero config is filled in with
// usable defaults.
func TestNewElectrumClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewElectrumClient(ElectrumConfig{Server: "localhost:50001"})

	require.Equal(t, defaultConcurrency, c.cfg.Concurrency)
	require.Equal(t, defaultTxCacheSize, c.cfg.TxCacheSize)
	require.Equal(t, defaultRequestTimeout, c.cfg.RequestTimeout)
	require.NotNil(t, c.txCache)
}

// TestElectrumClientLifecycleErrors makes sure the query methods refuse to
// run before Start and after Stop.
func TestElectrumClientLifecycleErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(
		context.Background(), time.Second,
	)
	defer cancel()

	c := NewElectrumClient(ElectrumConfig{Server: "localhost:50001"})

	_, err := c.GetHistory(ctx, []byte{0x00})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.GetHistoryBatch(ctx, [][]byte{{0x00}})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.ListUnspent(ctx, []byte{0x00})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.ListUnspentBatch(ctx, [][]byte{{0x00}})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.GetTransaction(ctx, chainhash.Hash{0x01})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.BestHeight(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	// Stopping a client that never connected must be safe, and all
	// methods must report the shutdown afterwards.
	c.Stop()
	c.Stop()

	_, err = c.BestHeight(ctx)
	require.ErrorIs(t, err, ErrClientShutdown)
}
