package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateWallet creates a new wallet in the database with the provided
// parameters. It returns the created wallet info, or ErrWalletExists if the
// name is already taken.
func (s *SQLStore) CreateWallet(ctx context.Context,
	params CreateWalletParams) (*WalletInfo, error) {

	birthday := sql.NullInt64{}
	if !params.Birthday.IsZero() {
		birthday = sql.NullInt64{
			Int64: params.Birthday.Unix(),
			Valid: true,
		}
	}

	now := time.Now().Unix()

	query := `
		INSERT INTO wallets (
			wallet_name, descriptor, birthday_timestamp, created_at
		)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_name) DO NOTHING
		RETURNING id
	`

	var id int64
	err := s.q.QueryRowContext(
		ctx, query, params.Name, params.Descriptor, birthday, now,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet %q: %w", params.Name,
				ErrWalletExists)
		}

		return nil, fmt.Errorf("create wallet: %w", err)
	}

	return buildWalletInfo(walletRow{
		id:                id,
		name:              params.Name,
		descriptor:        params.Descriptor,
		birthdayTimestamp: birthday,
		syncedHeight:      0,
		createdAt:         now,
	})
}

// GetWallet retrieves information about a wallet given its ID. It returns
// ErrWalletNotFound if no such wallet exists.
func (s *SQLStore) GetWallet(ctx context.Context,
	walletID uint32) (*WalletInfo, error) {

	query := `
		SELECT id, wallet_name, descriptor, birthday_timestamp,
			synced_height, created_at
		FROM wallets
		WHERE id = $1
	`

	row, err := scanWalletRow(s.q.QueryRowContext(
		ctx, query, int64(walletID),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet %d: %w", walletID,
				ErrWalletNotFound)
		}

		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return buildWalletInfo(row)
}

// GetWalletByName retrieves information about a wallet given its unique
// name. It returns ErrWalletNotFound if no such wallet exists.
func (s *SQLStore) GetWalletByName(ctx context.Context,
	name string) (*WalletInfo, error) {

	query := `
		SELECT id, wallet_name, descriptor, birthday_timestamp,
			synced_height, created_at
		FROM wallets
		WHERE wallet_name = $1
	`

	row, err := scanWalletRow(s.q.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet %q: %w", name,
				ErrWalletNotFound)
		}

		return nil, fmt.Errorf("get wallet by name: %w", err)
	}

	return buildWalletInfo(row)
}

// ListWallets returns a slice of WalletInfo for all wallets stored in the
// database. It returns an empty slice if no wallets exist.
func (s *SQLStore) ListWallets(ctx context.Context) ([]WalletInfo, error) {
	query := `
		SELECT id, wallet_name, descriptor, birthday_timestamp,
			synced_height, created_at
		FROM wallets
		ORDER BY id
	`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []WalletInfo
	for rows.Next() {
		var row walletRow
		err := rows.Scan(
			&row.id, &row.name, &row.descriptor,
			&row.birthdayTimestamp, &row.syncedHeight, &row.createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}

		info, err := buildWalletInfo(row)
		if err != nil {
			return nil, err
		}

		wallets = append(wallets, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}

	return wallets, nil
}

// UpdateSyncedHeight records the chain height the wallet was last reconciled
// against. It returns ErrWalletNotFound if no such wallet exists.
func (s *SQLStore) UpdateSyncedHeight(ctx context.Context, walletID uint32,
	height int32) error {

	query := `
		UPDATE wallets
		SET synced_height = $1
		WHERE id = $2
	`

	res, err := s.q.ExecContext(
		ctx, query, int64(height), int64(walletID),
	)
	if err != nil {
		return fmt.Errorf("update synced height: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update synced height rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
	}

	return nil
}

// DeleteWallet removes a wallet and, through foreign key cascades, all of
// its addresses, transactions, outputs and drafts. It returns
// ErrWalletNotFound if no such wallet exists.
func (s *SQLStore) DeleteWallet(ctx context.Context, walletID uint32) error {
	query := `
		DELETE FROM wallets
		WHERE id = $1
	`

	res, err := s.q.ExecContext(ctx, query, int64(walletID))
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete wallet rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("wallet %d: %w", walletID, ErrWalletNotFound)
	}

	return nil
}

// walletRow mirrors a row of the wallets table.
type walletRow struct {
	id                int64
	name              string
	descriptor        string
	birthdayTimestamp sql.NullInt64
	syncedHeight      int64
	createdAt         int64
}

// scanWalletRow scans a single wallets row from a query that selects the
// full column set.
func scanWalletRow(r *sql.Row) (walletRow, error) {
	var row walletRow
	err := r.Scan(
		&row.id, &row.name, &row.descriptor, &row.birthdayTimestamp,
		&row.syncedHeight, &row.createdAt,
	)

	return row, err
}

// buildWalletInfo constructs a WalletInfo from the given wallet row.
func buildWalletInfo(row walletRow) (*WalletInfo, error) {
	walletID, err := int64ToUint32(row.id)
	if err != nil {
		return nil, err
	}

	syncedHeight, err := int64ToInt32(row.syncedHeight)
	if err != nil {
		return nil, err
	}

	info := &WalletInfo{
		ID:           walletID,
		Name:         row.name,
		Descriptor:   row.descriptor,
		SyncedHeight: syncedHeight,
		CreatedAt:    time.Unix(row.createdAt, 0).UTC(),
	}

	if row.birthdayTimestamp.Valid {
		info.Birthday = time.Unix(row.birthdayTimestamp.Int64, 0).UTC()
	}

	return info, nil
}
