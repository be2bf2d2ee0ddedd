package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// CreateUTXOs inserts a batch of unspent outputs atomically. Outputs already
// present for the wallet are skipped, so the call is idempotent. It returns
// the number of outputs actually created.
func (s *SQLStore) CreateUTXOs(ctx context.Context,
	params CreateUTXOsParams) (int64, error) {

	query := `
		INSERT INTO utxos (
			wallet_id, txid, output_index, amount, script_pub_key,
			address, block_height, confirmations, is_spent,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		ON CONFLICT (wallet_id, txid, output_index) DO NOTHING
	`

	now := time.Now().Unix()

	var created int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, utxo := range params.UTXOs {
			res, err := tx.q.ExecContext(ctx, query,
				int64(params.WalletID), utxo.OutPoint.Hash[:],
				int64(utxo.OutPoint.Index), int64(utxo.Amount),
				utxo.ScriptPubKey, utxo.Address,
				int64(utxo.Height), int64(utxo.Confirmations),
				now,
			)
			if err != nil {
				return fmt.Errorf("create utxo %v: %w",
					utxo.OutPoint, err)
			}

			rowsAffected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf(
					"create utxo rows affected: %w", err,
				)
			}

			created += rowsAffected
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return created, nil
}

// ListUTXOs returns the outputs of a wallet matching the query, ordered by
// insertion.
func (s *SQLStore) ListUTXOs(ctx context.Context,
	query ListUTXOsQuery) ([]UtxoInfo, error) {

	stmt := `
		SELECT id, wallet_id, txid, output_index, amount,
			script_pub_key, address, block_height, confirmations,
			is_spent, created_at
		FROM utxos
		WHERE wallet_id = $1
	`
	args := []any{int64(query.WalletID)}

	if query.OnlyUnspent {
		stmt += " AND is_spent = FALSE"
	}

	if query.Address != "" {
		args = append(args, query.Address)
		stmt += fmt.Sprintf(" AND address = $%d", len(args))
	}

	stmt += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list utxos: %w", err)
	}
	defer rows.Close()

	var utxos []UtxoInfo
	for rows.Next() {
		var row utxoRow
		err := rows.Scan(
			&row.id, &row.walletID, &row.txid, &row.outputIndex,
			&row.amount, &row.scriptPubKey, &row.address,
			&row.blockHeight, &row.confirmations, &row.isSpent,
			&row.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan utxo row: %w", err)
		}

		info, err := buildUtxoInfo(row)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utxo rows: %w", err)
	}

	return utxos, nil
}

// MarkUTXOsSpent flags the given outpoints of a wallet as spent, atomically.
// Outpoints already flagged or unknown to the wallet are skipped, so the
// call is idempotent. It returns the row IDs of the outputs newly flagged.
func (s *SQLStore) MarkUTXOsSpent(ctx context.Context, walletID uint32,
	outpoints []wire.OutPoint) ([]int64, error) {

	query := `
		UPDATE utxos
		SET is_spent = TRUE
		WHERE wallet_id = $1 AND txid = $2 AND output_index = $3
			AND is_spent = FALSE
		RETURNING id
	`

	var spentIDs []int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, op := range outpoints {
			var id int64
			err := tx.q.QueryRowContext(ctx, query,
				int64(walletID), op.Hash[:], int64(op.Index),
			).Scan(&id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}

				return fmt.Errorf("mark utxo %v spent: %w",
					op, err)
			}

			spentIDs = append(spentIDs, id)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return spentIDs, nil
}

// UpdateUTXOConfirmations refreshes the confirmation height and count of the
// given outpoints atomically. Rows whose stored values already match are
// left untouched. It returns the number of outputs actually updated.
func (s *SQLStore) UpdateUTXOConfirmations(ctx context.Context,
	walletID uint32, updates []ConfirmationUpdate) (int64, error) {

	query := `
		UPDATE utxos
		SET block_height = $1, confirmations = $2
		WHERE wallet_id = $3 AND txid = $4 AND output_index = $5
			AND (block_height != $1 OR confirmations != $2)
	`

	var updated int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		for _, u := range updates {
			res, err := tx.q.ExecContext(ctx, query,
				int64(u.Height), int64(u.Confirmations),
				int64(walletID), u.OutPoint.Hash[:],
				int64(u.OutPoint.Index),
			)
			if err != nil {
				return fmt.Errorf(
					"update utxo %v confirmations: %w",
					u.OutPoint, err,
				)
			}

			rowsAffected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf(
					"update utxo rows affected: %w", err,
				)
			}

			updated += rowsAffected
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return updated, nil
}

// utxoRow mirrors a row of the utxos table.
type utxoRow struct {
	id            int64
	walletID      int64
	txid          []byte
	outputIndex   int64
	amount        int64
	scriptPubKey  []byte
	address       string
	blockHeight   int64
	confirmations int64
	isSpent       bool
	createdAt     int64
}

// buildUtxoInfo constructs a UtxoInfo from the given output row.
func buildUtxoInfo(row utxoRow) (*UtxoInfo, error) {
	walletID, err := int64ToUint32(row.walletID)
	if err != nil {
		return nil, err
	}

	outputIndex, err := int64ToUint32(row.outputIndex)
	if err != nil {
		return nil, err
	}

	height, err := int64ToInt32(row.blockHeight)
	if err != nil {
		return nil, err
	}

	confirmations, err := int64ToInt32(row.confirmations)
	if err != nil {
		return nil, err
	}

	hash, err := chainhash.NewHash(row.txid)
	if err != nil {
		return nil, fmt.Errorf("parse txid: %w", err)
	}

	return &UtxoInfo{
		ID:            row.id,
		WalletID:      walletID,
		OutPoint:      wire.OutPoint{Hash: *hash, Index: outputIndex},
		Amount:        btcutil.Amount(row.amount),
		ScriptPubKey:  row.scriptPubKey,
		Address:       row.address,
		Height:        height,
		Confirmations: confirmations,
		Spent:         row.isSpent,
		CreatedAt:     time.Unix(row.createdAt, 0).UTC(),
	}, nil
}
