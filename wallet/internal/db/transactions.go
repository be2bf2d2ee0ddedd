package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// UpsertTxs records a batch of observed transactions atomically. Records
// that already exist have their height, timestamp and replaceability
// refreshed; a resolved category is never overwritten by an unknown one, and
// a stored raw transaction or fee is never cleared. It returns the number of
// rows inserted or refreshed.
func (s *SQLStore) UpsertTxs(ctx context.Context,
	params UpsertTxsParams) (int64, error) {

	query := `
		INSERT INTO transactions (
			wallet_id, txid, category, block_height,
			block_timestamp, fee, is_replaceable, raw_tx, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (wallet_id, txid) DO UPDATE SET
			block_height = excluded.block_height,
			block_timestamp = excluded.block_timestamp,
			is_replaceable = excluded.is_replaceable,
			category = CASE
				WHEN excluded.category != 'unknown'
					THEN excluded.category
				ELSE transactions.category
			END,
			fee = CASE
				WHEN excluded.fee > 0 THEN excluded.fee
				ELSE transactions.fee
			END,
			raw_tx = COALESCE(excluded.raw_tx, transactions.raw_tx)
	`

	now := time.Now().Unix()

	var touched int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, newTx := range params.Txs {
			timestamp := sql.NullInt64{}
			if !newTx.Timestamp.IsZero() {
				timestamp = sql.NullInt64{
					Int64: newTx.Timestamp.Unix(),
					Valid: true,
				}
			}

			res, err := tx.q.ExecContext(ctx, query,
				int64(params.WalletID), newTx.TxID[:],
				string(newTx.Category), int64(newTx.Height),
				timestamp, int64(newTx.Fee), newTx.Replaceable,
				newTx.RawTx, now,
			)
			if err != nil {
				return fmt.Errorf("upsert tx %v: %w",
					newTx.TxID, err)
			}

			rowsAffected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf(
					"upsert tx rows affected: %w", err,
				)
			}

			touched += rowsAffected
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return touched, nil
}

// GetTx retrieves a single transaction record of a wallet. It returns
// ErrTxNotFound if the wallet has no record of the txid.
func (s *SQLStore) GetTx(ctx context.Context, walletID uint32,
	txid chainhash.Hash) (*TxInfo, error) {

	query := `
		SELECT id, wallet_id, txid, category, block_height,
			block_timestamp, fee, is_replaceable, raw_tx, created_at
		FROM transactions
		WHERE wallet_id = $1 AND txid = $2
	`

	var row txRow
	err := s.q.QueryRowContext(
		ctx, query, int64(walletID), txid[:],
	).Scan(
		&row.id, &row.walletID, &row.txid, &row.category,
		&row.blockHeight, &row.blockTimestamp, &row.fee,
		&row.isReplaceable, &row.rawTx, &row.createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tx %v: %w", txid, ErrTxNotFound)
		}

		return nil, fmt.Errorf("get tx: %w", err)
	}

	return buildTxInfo(row)
}

// ListTxs returns the transaction records of a wallet matching the query,
// unconfirmed transactions first, then by descending height.
func (s *SQLStore) ListTxs(ctx context.Context,
	query ListTxsQuery) ([]TxInfo, error) {

	stmt := `
		SELECT id, wallet_id, txid, category, block_height,
			block_timestamp, fee, is_replaceable, raw_tx, created_at
		FROM transactions
		WHERE wallet_id = $1
	`
	args := []any{int64(query.WalletID)}

	if query.Category != nil {
		args = append(args, string(*query.Category))
		stmt += fmt.Sprintf(" AND category = $%d", len(args))
	}

	if query.OnlyUnconfirmed {
		stmt += " AND block_height <= 0"
	}

	stmt += " ORDER BY (block_height <= 0) DESC, block_height DESC, id"

	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list txs: %w", err)
	}
	defer rows.Close()

	var txs []TxInfo
	for rows.Next() {
		var row txRow
		err := rows.Scan(
			&row.id, &row.walletID, &row.txid, &row.category,
			&row.blockHeight, &row.blockTimestamp, &row.fee,
			&row.isReplaceable, &row.rawTx, &row.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tx row: %w", err)
		}

		info, err := buildTxInfo(row)
		if err != nil {
			return nil, err
		}

		txs = append(txs, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx rows: %w", err)
	}

	return txs, nil
}

// txRow mirrors a row of the transactions table.
type txRow struct {
	id             int64
	walletID       int64
	txid           []byte
	category       string
	blockHeight    int64
	blockTimestamp sql.NullInt64
	fee            int64
	isReplaceable  bool
	rawTx          []byte
	createdAt      int64
}

// buildTxInfo constructs a TxInfo from the given transaction row.
func buildTxInfo(row txRow) (*TxInfo, error) {
	walletID, err := int64ToUint32(row.walletID)
	if err != nil {
		return nil, err
	}

	height, err := int64ToInt32(row.blockHeight)
	if err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHash(row.txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid: %w", err)
	}

	info := &TxInfo{
		ID:          row.id,
		WalletID:    walletID,
		TxID:        *hash,
		Category:    TxCategory(row.category),
		Height:      height,
		Fee:         btcutil.Amount(row.fee),
		Replaceable: row.isReplaceable,
		RawTx:       row.rawTx,
		CreatedAt:   time.Unix(row.createdAt, 0).UTC(),
	}

	if row.blockTimestamp.Valid {
		info.Timestamp = time.Unix(row.blockTimestamp.Int64, 0).UTC()
	}

	return info, nil
}
