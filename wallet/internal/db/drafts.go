package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

// CreateDraft records a draft transaction and the outputs it intends to
// spend, atomically. At least one output is required; the draft is deleted
// automatically once any of them is observed as spent on chain.
func (s *SQLStore) CreateDraft(ctx context.Context,
	params CreateDraftParams) (*DraftInfo, error) {

	if len(params.UTXOIDs) == 0 {
		return nil, errors.New("draft requires at least one input")
	}

	draftQuery := `
		INSERT INTO draft_transactions (
			wallet_id, raw_tx, fee, change_address, created_at,
			expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	inputQuery := `
		INSERT INTO draft_inputs (draft_id, utxo_id)
		VALUES ($1, $2)
	`

	expiresAt := sql.NullInt64{}
	if !params.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{
			Int64: params.ExpiresAt.Unix(),
			Valid: true,
		}
	}

	now := time.Now().Unix()

	var draftID int64
	err := s.withinTx(ctx, func(tx *SQLStore) error {
		err := tx.q.QueryRowContext(ctx, draftQuery,
			int64(params.WalletID), params.RawTx,
			int64(params.Fee), params.ChangeAddress, now, expiresAt,
		).Scan(&draftID)
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}

		for _, utxoID := range params.UTXOIDs {
			_, err := tx.q.ExecContext(
				ctx, inputQuery, draftID, utxoID,
			)
			if err != nil {
				return fmt.Errorf(
					"insert draft input %d: %w", utxoID,
					err,
				)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	info := &DraftInfo{
		ID:            draftID,
		WalletID:      params.WalletID,
		RawTx:         params.RawTx,
		Fee:           params.Fee,
		ChangeAddress: params.ChangeAddress,
		UTXOIDs:       params.UTXOIDs,
		CreatedAt:     time.Unix(now, 0).UTC(),
	}
	if expiresAt.Valid {
		info.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}

	return info, nil
}

// GetDraft retrieves a single draft transaction of a wallet, including the
// row IDs of the outputs it spends. It returns ErrDraftNotFound if no such
// draft exists.
func (s *SQLStore) GetDraft(ctx context.Context, walletID uint32,
	draftID int64) (*DraftInfo, error) {

	query := `
		SELECT id, wallet_id, raw_tx, fee, change_address, created_at,
			expires_at
		FROM draft_transactions
		WHERE wallet_id = $1 AND id = $2
	`

	var row draftRow
	err := s.q.QueryRowContext(
		ctx, query, int64(walletID), draftID,
	).Scan(
		&row.id, &row.walletID, &row.rawTx, &row.fee,
		&row.changeAddress, &row.createdAt, &row.expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("draft %d: %w", draftID,
				ErrDraftNotFound)
		}

		return nil, fmt.Errorf("get draft: %w", err)
	}

	info, err := buildDraftInfo(row)
	if err != nil {
		return nil, err
	}

	info.UTXOIDs, err = s.draftInputIDs(ctx, draftID)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ListDrafts returns all draft transactions of a wallet, ordered by
// creation, each including the row IDs of the outputs it spends.
func (s *SQLStore) ListDrafts(ctx context.Context,
	walletID uint32) ([]DraftInfo, error) {

	query := `
		SELECT id, wallet_id, raw_tx, fee, change_address, created_at,
			expires_at
		FROM draft_transactions
		WHERE wallet_id = $1
		ORDER BY id
	`

	rows, err := s.q.QueryContext(ctx, query, int64(walletID))
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []DraftInfo
	for rows.Next() {
		var row draftRow
		err := rows.Scan(
			&row.id, &row.walletID, &row.rawTx, &row.fee,
			&row.changeAddress, &row.createdAt, &row.expiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan draft row: %w", err)
		}

		info, err := buildDraftInfo(row)
		if err != nil {
			return nil, err
		}

		drafts = append(drafts, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft rows: %w", err)
	}

	for i := range drafts {
		drafts[i].UTXOIDs, err = s.draftInputIDs(ctx, drafts[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return drafts, nil
}

// DeleteDraft removes a draft transaction of a wallet. It returns
// ErrDraftNotFound if no such draft exists.
func (s *SQLStore) DeleteDraft(ctx context.Context, walletID uint32,
	draftID int64) error {

	query := `
		DELETE FROM draft_transactions
		WHERE wallet_id = $1 AND id = $2
	`

	res, err := s.q.ExecContext(ctx, query, int64(walletID), draftID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete draft rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("draft %d: %w", draftID, ErrDraftNotFound)
	}

	return nil
}

// DeleteDraftsSpendingUTXOs removes all drafts of a wallet that spend any of
// the given output rows. It returns the number of drafts removed.
func (s *SQLStore) DeleteDraftsSpendingUTXOs(ctx context.Context,
	walletID uint32, utxoIDs []int64) (int64, error) {

	if len(utxoIDs) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(utxoIDs))
	args := make([]any, 0, len(utxoIDs)+1)
	args = append(args, int64(walletID))
	for i, id := range utxoIDs {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := fmt.Sprintf(`
		DELETE FROM draft_transactions
		WHERE wallet_id = $1 AND id IN (
			SELECT DISTINCT draft_id
			FROM draft_inputs
			WHERE utxo_id IN (%s)
		)
	`, strings.Join(placeholders, ", "))

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete drafts spending utxos: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete drafts rows affected: %w", err)
	}

	return deleted, nil
}

// DeleteExpiredDrafts removes all drafts, across wallets, whose expiry time
// is at or before now. It returns the number of drafts removed.
func (s *SQLStore) DeleteExpiredDrafts(ctx context.Context,
	now time.Time) (int64, error) {

	query := `
		DELETE FROM draft_transactions
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`

	res, err := s.q.ExecContext(ctx, query, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired drafts: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf(
			"delete expired drafts rows affected: %w", err,
		)
	}

	return deleted, nil
}

// draftInputIDs returns the output row IDs a draft spends, in stable order.
func (s *SQLStore) draftInputIDs(ctx context.Context,
	draftID int64) ([]int64, error) {

	query := `
		SELECT utxo_id
		FROM draft_inputs
		WHERE draft_id = $1
		ORDER BY utxo_id
	`

	rows, err := s.q.QueryContext(ctx, query, draftID)
	if err != nil {
		return nil, fmt.Errorf("list draft inputs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan draft input row: %w", err)
		}

		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft input rows: %w", err)
	}

	return ids, nil
}

// draftRow mirrors a row of the draft_transactions table.
type draftRow struct {
	id            int64
	walletID      int64
	rawTx         []byte
	fee           int64
	changeAddress string
	createdAt     int64
	expiresAt     sql.NullInt64
}

// buildDraftInfo constructs a DraftInfo from the given draft row. The input
// IDs are filled in separately.
func buildDraftInfo(row draftRow) (*DraftInfo, error) {
	walletID, err := int64ToUint32(row.walletID)
	if err != nil {
		return nil, err
	}

	info := &DraftInfo{
		ID:            row.id,
		WalletID:      walletID,
		RawTx:         row.rawTx,
		Fee:           btcutil.Amount(row.fee),
		ChangeAddress: row.changeAddress,
		CreatedAt:     time.Unix(row.createdAt, 0).UTC(),
	}

	if row.expiresAt.Valid {
		info.ExpiresAt = time.Unix(row.expiresAt.Int64, 0).UTC()
	}

	return info, nil
}
