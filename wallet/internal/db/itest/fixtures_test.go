package itest

import (
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stashbtc/stashd/wallet/internal/db"
	"github.com/stretchr/testify/require"
)

// testDescriptor is a syntactically valid descriptor for fixture wallets.
const testDescriptor = "wpkh(xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9" +
	"gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8/" +
	"0/*)"

// CreateWalletParamsFixture creates test parameters for wallet creation.
func CreateWalletParamsFixture(name string) db.CreateWalletParams {
	return db.CreateWalletParams{
		Name:       name,
		Descriptor: testDescriptor,
		Birthday:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// CreateWalletFixture creates a wallet in the store and returns its info.
func CreateWalletFixture(t *testing.T, store db.Store,
	name string) *db.WalletInfo {

	t.Helper()

	info, err := store.CreateWallet(
		t.Context(), CreateWalletParamsFixture(name),
	)
	require.NoError(t, err, "failed to create fixture wallet")

	return info
}

// CreateUTXOFixtures inserts outputs paying the given addresses at the
// given height and returns them as stored.
func CreateUTXOFixtures(t *testing.T, store db.Store, walletID uint32,
	height int32, addresses ...string) []db.UtxoInfo {

	t.Helper()

	utxos := make([]db.NewUTXO, len(addresses))
	for i, addr := range addresses {
		utxos[i] = NewUTXOFixture(addr, height)
	}

	created, err := store.CreateUTXOs(t.Context(), db.CreateUTXOsParams{
		WalletID: walletID,
		UTXOs:    utxos,
	})
	require.NoError(t, err, "failed to insert fixture utxos")
	require.EqualValues(t, len(addresses), created)

	stored, err := store.ListUTXOs(t.Context(), db.ListUTXOsQuery{
		WalletID: walletID,
	})
	require.NoError(t, err, "failed to list fixture utxos")

	return stored
}

// NewAddressFixture creates a derived address for insertion at the given
// branch and index.
func NewAddressFixture(branch db.Branch, index uint32) db.NewAddress {
	return db.NewAddress{
		Address:      fmt.Sprintf("bc1q%d%08x", branch, index),
		ScriptPubKey: RandomBytes(22),
		Branch:       branch,
		Index:        index,
	}
}

// NewTxFixture creates a transaction record for insertion at the given
// height. Heights of zero or below produce an unconfirmed record.
func NewTxFixture(height int32) db.NewTx {
	tx := db.NewTx{
		TxID:     RandomHash(),
		Category: db.TxCategoryIncoming,
		Height:   height,
	}

	if height > 0 {
		tx.Timestamp = time.Now().UTC().Truncate(time.Second)
	}

	return tx
}

// NewUTXOFixture creates an unspent output for insertion, paying the given
// address and confirmed at the given height.
func NewUTXOFixture(address string, height int32) db.NewUTXO {
	return db.NewUTXO{
		OutPoint: wire.OutPoint{
			Hash:  RandomHash(),
			Index: 0,
		},
		Amount:       btcutil.Amount(100_000),
		ScriptPubKey: RandomBytes(22),
		Address:      address,
		Height:       height,
	}
}

// RandomBytes generates random bytes for test data.
func RandomBytes(n int) []byte {
	b := make([]byte, n)

	_, err := rand.Read(b)
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to generate random bytes: %v", err))
	}

	return b
}

// RandomHash generates a random chainhash.Hash for testing.
func RandomHash() chainhash.Hash {
	var h chainhash.Hash

	_, err := rand.Read(h[:])
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to generate random hash: %v", err))
	}

	return h
}
